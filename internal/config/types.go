package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Logging Logging `json:"logging"`
	// MetricsFile: 退出时写出 Prometheus textfile；空表示不写。
	MetricsFile string `json:"metrics_file"`

	Depths Depths `json:"depths"`
	Sync   Sync   `json:"sync"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志等级与轮转文件位置。
type Logging struct {
	Level string `json:"level"`
	// Dir: 日志目录，默认 logs；"-" 表示只写 stderr。
	Dir        string `json:"dir"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// Depths: 窗口计数的输入与窗口大小。
type Depths struct {
	Inputs []string `json:"inputs"`
	Window int      `json:"window"`
}

// Sync: 清单同步。
type Sync struct {
	ManifestURL string `json:"manifest_url"`
	DataDir     string `json:"data_dir"`
	StemPattern string `json:"stem_pattern"`
	Concurrency int    `json:"concurrency"`
	// MaxRetries: 下载+校验的最大重试次数（>=0）。-1 表示未设置。
	MaxRetries   int `json:"max_retries"`
	RetryDelayMS int `json:"retry_delay_ms"`
	// DecompressExisting: 仅有压缩文件时是否校验并解压；nil 表示未设置。
	DecompressExisting *bool `json:"decompress_existing"`
	// KeepStale 与 DryRun 同样以 nil 表示未设置，后层可显式关闭前层的 true。
	KeepStale *bool `json:"keep_stale"`
	// RequestsPerMinute: 每主机下载请求上限；0 表示不限。
	RequestsPerMinute int   `json:"requests_per_minute"`
	DryRun            *bool `json:"dry_run"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader       string `json:"reader"`
	Parser       string `json:"parser"`
	Counter      string `json:"counter"`
	Fetcher      string `json:"fetcher"`
	Extractor    string `json:"extractor"`
	Transfer     string `json:"transfer"`
	Decompressor string `json:"decompressor"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader       json.RawMessage `json:"reader"`
	Parser       json.RawMessage `json:"parser"`
	Counter      json.RawMessage `json:"counter"`
	Fetcher      json.RawMessage `json:"fetcher"`
	Extractor    json.RawMessage `json:"extractor"`
	Transfer     json.RawMessage `json:"transfer"`
	Decompressor json.RawMessage `json:"decompressor"`
}

func boolPtr(b bool) *bool { return &b }

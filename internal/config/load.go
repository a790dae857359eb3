package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"advent/internal/manifest"
	"advent/pkg/contract"
)

// EnvPrefix 为环境变量覆盖的统一前缀。
const EnvPrefix = "ADVENT_"

// DefaultManifestURL 为默认清单页面。
const DefaultManifestURL = "https://the-tk.com/project/aoc2021-bigboys.html"

// DefaultDataDir 相对用户主目录展开。
const DefaultDataDir = "~/advent/bigdata"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Logging: Logging{Level: "info", Dir: "logs", MaxSizeMB: 10, MaxBackups: 5},
		Depths:  Depths{Inputs: []string{"data/depths.txt"}, Window: 3},
		Sync: Sync{
			ManifestURL:        DefaultManifestURL,
			DataDir:            DefaultDataDir,
			StemPattern:        contract.DefaultStemPattern,
			Concurrency:        1,
			MaxRetries:         2,
			RetryDelayMS:       1000,
			DecompressExisting: boolPtr(true),
		},
		Components: Components{
			Reader:       "fs",
			Parser:       "lines",
			Counter:      "sliding",
			Fetcher:      "http",
			Extractor:    "anchor",
			Transfer:     "curl",
			Decompressor: "xz",
		},
	}
}

// LoadFile 按扩展名选择 YAML（.yaml/.yml）或 JSON 解析配置文件。
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "read config %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(raw)
	}
	return LoadJSON("", raw)
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return Config{}, errors.Annotatef(err, "open config %s", path)
		}
		defer f.Close()
		r = f
	default:
		return Config{}, errors.NotValidf("no config source provided")
	}
	return decodeStrict(r)
}

// LoadYAML 先以 yaml.v3 解码为通用树，再转为 JSON 走同一严格解码路径，
// 保证两种格式的字段名与未知字段规则一致。
func LoadYAML(raw []byte) (Config, error) {
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return Config{}, errors.NewNotValid(err, "config yaml")
	}
	tree, err := jsonTree(tree)
	if err != nil {
		return Config{}, err
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return Config{}, errors.NewNotValid(err, "config yaml")
	}
	return decodeStrict(bytes.NewReader(b))
}

func decodeStrict(r io.Reader) (Config, error) {
	var cfg Config
	// 未出现的 max_retries 保持“未设置”，不覆盖默认值
	cfg.Sync.MaxRetries = -1
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.NewNotValid(err, "config")
	}
	return cfg, nil
}

// jsonTree 将 yaml 的 map[any]any 归一为 map[string]any。
func jsonTree(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			y, err := jsonTree(x)
			if err != nil {
				return nil, err
			}
			t[k] = y
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			y, err := jsonTree(x)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = y
		}
		return out, nil
	case []any:
		for i, x := range t {
			y, err := jsonTree(x)
			if err != nil {
				return nil, err
			}
			t[i] = y
		}
		return t, nil
	}
	return v, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
// 布尔开关（keep_stale/dry_run/compress）只能由 false 打开为 true。
func Merge(base, over Config) Config {
	out := base
	out.Depths.Inputs = cloneStrings(base.Depths.Inputs)

	// Logging
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}
	if over.Logging.MaxSizeMB != 0 {
		out.Logging.MaxSizeMB = over.Logging.MaxSizeMB
	}
	if over.Logging.MaxBackups != 0 {
		out.Logging.MaxBackups = over.Logging.MaxBackups
	}
	if over.Logging.MaxAgeDays != 0 {
		out.Logging.MaxAgeDays = over.Logging.MaxAgeDays
	}
	out.Logging.Compress = out.Logging.Compress || over.Logging.Compress
	if s := strings.TrimSpace(over.MetricsFile); s != "" {
		out.MetricsFile = s
	}

	// Depths
	if len(over.Depths.Inputs) > 0 {
		out.Depths.Inputs = cloneStrings(over.Depths.Inputs)
	}
	if over.Depths.Window != 0 {
		out.Depths.Window = over.Depths.Window
	}

	// Sync
	if s := strings.TrimSpace(over.Sync.ManifestURL); s != "" {
		out.Sync.ManifestURL = s
	}
	if s := strings.TrimSpace(over.Sync.DataDir); s != "" {
		out.Sync.DataDir = s
	}
	if over.Sync.StemPattern != "" {
		out.Sync.StemPattern = over.Sync.StemPattern
	}
	if over.Sync.Concurrency != 0 {
		out.Sync.Concurrency = over.Sync.Concurrency
	}
	// 特殊：MaxRetries 的 0 具有语义（禁用重试），需要显式可覆盖。
	// 约定：当 over.MaxRetries >= 0 时认为“存在”，否则（例如 -1）视为未覆盖。
	if over.Sync.MaxRetries >= 0 {
		out.Sync.MaxRetries = over.Sync.MaxRetries
	}
	if over.Sync.RetryDelayMS != 0 {
		out.Sync.RetryDelayMS = over.Sync.RetryDelayMS
	}
	if over.Sync.DecompressExisting != nil {
		out.Sync.DecompressExisting = boolPtr(*over.Sync.DecompressExisting)
	}
	if over.Sync.KeepStale != nil {
		out.Sync.KeepStale = boolPtr(*over.Sync.KeepStale)
	}
	if over.Sync.RequestsPerMinute != 0 {
		out.Sync.RequestsPerMinute = over.Sync.RequestsPerMinute
	}
	if over.Sync.DryRun != nil {
		out.Sync.DryRun = boolPtr(*over.Sync.DryRun)
	}

	// 组件名（空不覆盖）
	mergeName(&out.Components.Reader, over.Components.Reader)
	mergeName(&out.Components.Parser, over.Components.Parser)
	mergeName(&out.Components.Counter, over.Components.Counter)
	mergeName(&out.Components.Fetcher, over.Components.Fetcher)
	mergeName(&out.Components.Extractor, over.Components.Extractor)
	mergeName(&out.Components.Transfer, over.Components.Transfer)
	mergeName(&out.Components.Decompressor, over.Components.Decompressor)

	// Options（完整替换对应键）
	mergeRaw(&out.Options.Reader, over.Options.Reader)
	mergeRaw(&out.Options.Parser, over.Options.Parser)
	mergeRaw(&out.Options.Counter, over.Options.Counter)
	mergeRaw(&out.Options.Fetcher, over.Options.Fetcher)
	mergeRaw(&out.Options.Extractor, over.Options.Extractor)
	mergeRaw(&out.Options.Transfer, over.Options.Transfer)
	mergeRaw(&out.Options.Decompressor, over.Options.Decompressor)
	return out
}

func mergeName(dst *string, over string) {
	if s := strings.TrimSpace(over); s != "" {
		*dst = s
	}
}

func mergeRaw(dst *json.RawMessage, over json.RawMessage) {
	if len(over) > 0 {
		*dst = cloneRaw(over)
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 ADVENT_；集合之外的键忽略；数值/布尔格式错误返回 NotValid。
// 支持：LOG_LEVEL, LOG_DIR, METRICS_FILE, DEPTHS_INPUTS, DEPTHS_WINDOW,
// SYNC_URL, SYNC_DIR, SYNC_STEM_PATTERN, SYNC_CONCURRENCY, SYNC_MAX_RETRIES,
// SYNC_RETRY_DELAY_MS, SYNC_DECOMPRESS_EXISTING, SYNC_KEEP_STALE, SYNC_RPM,
// SYNC_DRY_RUN, COMPONENTS_<NAME> 以及 OPTIONS_<NAME>_JSON。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// 默认：-1 表示未设置，以便 Merge 能区分“未覆盖”和“显式设置为 0”。
	over.Sync.MaxRetries = -1
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := kv[eq+1:]
		// 空值视为未设置
		if strings.TrimSpace(val) == "" {
			continue
		}
		var err error
		switch key {
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "METRICS_FILE":
			over.MetricsFile = strings.TrimSpace(val)
		case "DEPTHS_INPUTS":
			over.Depths.Inputs = splitComma(val)
		case "DEPTHS_WINDOW":
			over.Depths.Window, err = atoi(val)
		case "SYNC_URL":
			over.Sync.ManifestURL = strings.TrimSpace(val)
		case "SYNC_DIR":
			over.Sync.DataDir = strings.TrimSpace(val)
		case "SYNC_STEM_PATTERN":
			over.Sync.StemPattern = strings.TrimSpace(val)
		case "SYNC_CONCURRENCY":
			over.Sync.Concurrency, err = atoi(val)
		case "SYNC_MAX_RETRIES":
			over.Sync.MaxRetries, err = atoi(val)
		case "SYNC_RETRY_DELAY_MS":
			over.Sync.RetryDelayMS, err = atoi(val)
		case "SYNC_RPM":
			over.Sync.RequestsPerMinute, err = atoi(val)
		case "SYNC_DECOMPRESS_EXISTING":
			over.Sync.DecompressExisting, err = parseBool(val)
		case "SYNC_KEEP_STALE":
			over.Sync.KeepStale, err = parseBool(val)
		case "SYNC_DRY_RUN":
			over.Sync.DryRun, err = parseBool(val)
		default:
			switch {
			case strings.HasPrefix(key, "COMPONENTS_"):
				if p := componentName(&over.Components, strings.TrimPrefix(key, "COMPONENTS_")); p != nil {
					*p = strings.TrimSpace(val)
				}
			case strings.HasPrefix(key, "OPTIONS_") && strings.HasSuffix(key, "_JSON"):
				name := strings.TrimSuffix(strings.TrimPrefix(key, "OPTIONS_"), "_JSON")
				if p := componentOptions(&over.Options, name); p != nil {
					if !json.Valid([]byte(val)) {
						err = errors.NotValidf("invalid JSON")
					} else {
						*p = json.RawMessage(val)
					}
				}
			}
		}
		if err != nil {
			return Config{}, errors.Annotatef(err, "env %s%s", EnvPrefix, key)
		}
	}
	return over, nil
}

func componentName(c *Components, name string) *string {
	switch name {
	case "READER":
		return &c.Reader
	case "PARSER":
		return &c.Parser
	case "COUNTER":
		return &c.Counter
	case "FETCHER":
		return &c.Fetcher
	case "EXTRACTOR":
		return &c.Extractor
	case "TRANSFER":
		return &c.Transfer
	case "DECOMPRESSOR":
		return &c.Decompressor
	}
	return nil
}

func componentOptions(o *Options, name string) *json.RawMessage {
	switch name {
	case "READER":
		return &o.Reader
	case "PARSER":
		return &o.Parser
	case "COUNTER":
		return &o.Counter
	case "FETCHER":
		return &o.Fetcher
	case "EXTRACTOR":
		return &o.Extractor
	case "TRANSFER":
		return &o.Transfer
	case "DECOMPRESSOR":
		return &o.Decompressor
	}
	return nil
}

// ExpandDataDir 展开数据目录中的 ~。
func ExpandDataDir(cfg Config) (string, error) {
	return manifest.ExpandDir(cfg.Sync.DataDir)
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.NewNotValid(err, "integer")
	}
	return n, nil
}

// parseBool 返回指针：nil 与 false 在合并时含义不同。
func parseBool(s string) (*bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.NewNotValid(err, "boolean")
	}
	return &b, nil
}

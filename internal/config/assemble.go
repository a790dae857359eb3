package config

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/juju/errors"

	"advent/internal/diag"
	"advent/internal/pipeline"
	"advent/internal/proc"
	"advent/internal/rate"
	"advent/pkg/registry"
)

// Validate 对最小必要边界做静态校验（两个子命令共用的部分 + 各自部分）。
func Validate(cfg Config) error {
	if err := validateCommon(cfg); err != nil {
		return err
	}
	if err := ValidateDepths(cfg); err != nil {
		return err
	}
	return ValidateSync(cfg)
}

func validateCommon(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.NotValidf("config: logging.level %q", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 || cfg.Logging.MaxAgeDays < 0 {
		return errors.NotValidf("config: logging rotation values must be >= 0")
	}
	return nil
}

// ValidateDepths 校验 depths 子命令所需字段。
func ValidateDepths(cfg Config) error {
	if len(cfg.Depths.Inputs) == 0 {
		return errors.NotValidf("config: depths.inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Depths.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.NotValidf("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Depths.Inputs) > 1 {
		return errors.NotValidf("config: '-' cannot be mixed with other roots")
	}
	if cfg.Depths.Window < 0 {
		return errors.NotValidf("config: depths.window must be >= 1")
	}
	if err := registered("reader", cfg.Components.Reader, Defaults().Components.Reader, registry.Reader); err != nil {
		return err
	}
	if err := registered("parser", cfg.Components.Parser, Defaults().Components.Parser, registry.Parser); err != nil {
		return err
	}
	return registered("counter", cfg.Components.Counter, Defaults().Components.Counter, registry.Counter)
}

// ValidateSync 校验 sync 子命令所需字段。
func ValidateSync(cfg Config) error {
	s := cfg.Sync
	u, err := url.Parse(strings.TrimSpace(s.ManifestURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.NotValidf("config: sync.manifest_url %q", s.ManifestURL)
	}
	if strings.TrimSpace(s.DataDir) == "" {
		return errors.NotValidf("config: sync.data_dir empty")
	}
	if s.StemPattern != "" {
		if _, err := regexp.Compile(s.StemPattern); err != nil {
			return errors.NotValidf("config: sync.stem_pattern %q", s.StemPattern)
		}
	}
	if s.Concurrency < 1 {
		return errors.NotValidf("config: sync.concurrency must be >= 1")
	}
	if s.MaxRetries < 0 {
		return errors.NotValidf("config: sync.max_retries must be >= 0")
	}
	if s.RetryDelayMS < 0 {
		return errors.NotValidf("config: sync.retry_delay_ms must be >= 0")
	}
	if s.RequestsPerMinute < 0 {
		return errors.NotValidf("config: sync.requests_per_minute must be >= 0")
	}
	d := Defaults().Components
	if err := registered("fetcher", cfg.Components.Fetcher, d.Fetcher, registry.Fetcher); err != nil {
		return err
	}
	if err := registered("extractor", cfg.Components.Extractor, d.Extractor, registry.Extractor); err != nil {
		return err
	}
	if err := registered("transfer", cfg.Components.Transfer, d.Transfer, registry.Transfer); err != nil {
		return err
	}
	return registered("decompressor", cfg.Components.Decompressor, d.Decompressor, registry.Decompressor)
}

func registered[F any](kind, got, def string, table map[string]F) error {
	name := effName(got, def)
	if _, ok := table[name]; !ok {
		return errors.NotValidf("config: %s %q not registered", kind, name)
	}
	return nil
}

// AssembleDepths 构造 depths 所需的 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func AssembleDepths(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := validateCommon(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	if err := ValidateDepths(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	r, err := registry.Reader[effName(cfg.Components.Reader, d.Reader)](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, errors.Annotate(err, "reader")
	}
	p, err := registry.Parser[effName(cfg.Components.Parser, d.Parser)](cfg.Options.Parser)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, errors.Annotate(err, "parser")
	}
	// depths.window 优先于 options.counter.window
	craw := cfg.Options.Counter
	if cfg.Depths.Window > 0 {
		if craw, err = overlayJSON(craw, "window", cfg.Depths.Window); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, errors.Annotate(err, "counter")
		}
	}
	c, err := registry.Counter[effName(cfg.Components.Counter, d.Counter)](craw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, errors.Annotate(err, "counter")
	}
	comp := pipeline.Components{Reader: r, Parser: p, Counter: c}
	set := pipeline.Settings{Inputs: cloneStrings(cfg.Depths.Inputs)}
	return comp, set, nil
}

// AssembleSync 构造 sync 所需的 Components、Settings 与限流 Gate。
// run 供外部工具组件启动子进程。
func AssembleSync(cfg Config, run proc.Runner) (pipeline.Components, pipeline.Settings, error) {
	if err := validateCommon(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	if err := ValidateSync(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	f, err := registry.Fetcher[effName(cfg.Components.Fetcher, d.Fetcher)](cfg.Options.Fetcher)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, errors.Annotate(err, "fetcher")
	}
	// sync.stem_pattern 同时约束提取与本地路径校验
	eraw := cfg.Options.Extractor
	if cfg.Sync.StemPattern != "" {
		if eraw, err = overlayJSON(eraw, "stem_pattern", cfg.Sync.StemPattern); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, errors.Annotate(err, "extractor")
		}
	}
	e, err := registry.Extractor[effName(cfg.Components.Extractor, d.Extractor)](eraw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, errors.Annotate(err, "extractor")
	}
	t, err := registry.Transfer[effName(cfg.Components.Transfer, d.Transfer)](cfg.Options.Transfer, run)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, errors.Annotate(err, "transfer")
	}
	x, err := registry.Decompressor[effName(cfg.Components.Decompressor, d.Decompressor)](cfg.Options.Decompressor, run)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, errors.Annotate(err, "decompressor")
	}
	dir, err := ExpandDataDir(cfg)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	comp := pipeline.Components{Fetcher: f, Extractor: e, Transfer: t, Decompressor: x}
	set := pipeline.Settings{
		ManifestURL:        strings.TrimSpace(cfg.Sync.ManifestURL),
		DataDir:            dir,
		StemPattern:        cfg.Sync.StemPattern,
		Concurrency:        cfg.Sync.Concurrency,
		MaxRetries:         cfg.Sync.MaxRetries,
		RetryDelay:         time.Duration(cfg.Sync.RetryDelayMS) * time.Millisecond,
		DecompressExisting: cfg.Sync.DecompressExisting == nil || *cfg.Sync.DecompressExisting,
		KeepStale:          cfg.Sync.KeepStale != nil && *cfg.Sync.KeepStale,
		DryRun:             cfg.Sync.DryRun != nil && *cfg.Sync.DryRun,
	}
	// 限流 Gate：按主机分组，每主机独立令牌桶
	if rpm := cfg.Sync.RequestsPerMinute; rpm > 0 {
		set.Gate = rate.NewGate(rate.Limits{RPM: rpm, Burst: 1}, nil)
	}
	return comp, set, nil
}

// SinkOptions 将 logging 配置映射为轮转文件参数。
func SinkOptions(cfg Config) diag.SinkOptions {
	return diag.SinkOptions{
		Dir:        cfg.Logging.Dir,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}
}

// overlayJSON 在原样 JSON 对象上设置一个键，其余键保持不变。
func overlayJSON(raw json.RawMessage, key string, val any) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.NewNotValid(err, "options")
		}
	}
	b, err := json.Marshal(val)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m[key] = b
	out, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return out, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

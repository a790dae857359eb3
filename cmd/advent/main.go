package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	cfgpkg "advent/internal/config"
	"advent/internal/diag"
	"advent/internal/pipeline"
	"advent/internal/proc"
)

// 退出码
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
	exitConfig  = 3
)

// 测试替换点
var (
	countRun  = pipeline.RunCount
	syncRun   = pipeline.RunSync
	newRunner = func(w io.Writer) proc.Runner { return &proc.Echo{Runner: proc.NewExec(), W: w} }

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

const usage = `用法:
  advent depths [--window N] [--config F] [roots...]
  advent sync [--config F] [--url U] [--dir D] [--concurrency N] [--max-retries N] [--dry-run] [--keep-stale]
  advent init-config [dir]
`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 解析子命令并返回退出码。
func run(args []string) int {
	if len(args) == 0 {
		fprintf(stderr, "%s", usage)
		return exitUsage
	}
	switch args[0] {
	case "depths":
		return runDepths(args[1:])
	case "sync":
		return runSync(args[1:])
	case "init-config":
		return runInit(args[1:])
	case "help", "-h", "--help":
		fprintf(stdout, "%s", usage)
		return exitOK
	}
	fprintf(stderr, "未知子命令 %q\n%s", args[0], usage)
	return exitUsage
}

// common 为各子命令共享的旗标。
type common struct {
	config      string
	logLevel    string
	metricsFile string
	status      bool
}

func newFlagSet(name string, c *common) *gnuflag.FlagSet {
	fs := gnuflag.NewFlagSet(name, gnuflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.config, "config", "", "配置文件路径（JSON 或 YAML）；缺省读取 ./config.json（若存在）")
	fs.StringVar(&c.logLevel, "log-level", "", "日志等级（覆盖配置）")
	fs.StringVar(&c.metricsFile, "metrics-file", "", "退出时写出 Prometheus textfile（覆盖配置）")
	fs.BoolVar(&c.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	return fs
}

// parseFlags: -h 返回 exitOK，其余解析错误返回 exitUsage；成功返回 -1。
func parseFlags(fs *gnuflag.FlagSet, args []string) int {
	if err := fs.Parse(true, args); err != nil {
		if errors.Is(err, gnuflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	return -1
}

func runDepths(args []string) int {
	var c common
	var window int
	fs := newFlagSet("depths", &c)
	fs.IntVar(&window, "window", 0, "窗口大小（>=1，覆盖配置；默认 3）")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if window < 0 {
		fprintf(stderr, "--window 必须 >= 1\n")
		return exitUsage
	}

	var over cfgpkg.Config
	over.Sync.MaxRetries = -1
	over.Depths.Window = window
	over.Depths.Inputs = fs.Args()
	cfg, code := loadConfig(c, over)
	if code >= 0 {
		return code
	}
	comp, set, err := cfgpkg.AssembleDepths(cfg)
	if err != nil {
		return assemblyFailed(cfg, err)
	}

	rt := begin(cfg, c)
	defer rt.end()
	rt.logger.DebugStart("config", "effective", "", map[string]string{
		"inputs_count": fmt.Sprintf("%d", len(set.Inputs)),
		"reader":       cfg.Components.Reader,
		"parser":       cfg.Components.Parser,
		"counter":      cfg.Components.Counter,
	})
	return rt.finish(countRun(rt.ctx, comp, set, rt.logger, stdout))
}

func runSync(args []string) int {
	var c common
	var (
		flagURL         string
		flagDir         string
		flagConcurrency int
		flagMaxRetries  int
		flagRPM         int
		flagTransfer    string
		flagDryRun      bool
		flagKeepStale   bool
	)
	fs := newFlagSet("sync", &c)
	fs.StringVar(&flagURL, "url", "", "清单页面 URL（覆盖配置）")
	fs.StringVar(&flagDir, "dir", "", "数据目录（覆盖配置；支持 ~）")
	fs.IntVar(&flagConcurrency, "concurrency", 0, "条目并发度（覆盖配置）")
	// max-retries 允许显式设置为 0；默认 -1 表示“未覆盖”。
	fs.IntVar(&flagMaxRetries, "max-retries", -1, "下载+校验最大重试次数（覆盖配置；0 表示不重试）")
	fs.IntVar(&flagRPM, "rpm", 0, "每主机每分钟下载请求上限（覆盖配置）")
	fs.StringVar(&flagTransfer, "transfer", "", "下载实现：curl | http（覆盖配置）")
	fs.BoolVar(&flagDryRun, "dry-run", false, "只打印计划，不下载、不解压")
	fs.BoolVar(&flagKeepStale, "keep-stale", false, "保留未通过校验的下载文件")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if fs.NArg() > 0 {
		fprintf(stderr, "sync 不接受位置参数: %s\n", strings.Join(fs.Args(), " "))
		return exitUsage
	}

	var over cfgpkg.Config
	over.Sync = cfgpkg.Sync{
		ManifestURL:       flagURL,
		DataDir:           flagDir,
		Concurrency:       flagConcurrency,
		MaxRetries:        flagMaxRetries,
		RequestsPerMinute: flagRPM,
	}
	// 布尔开关仅在显式给出时覆盖（允许 --keep-stale=false 关闭配置文件中的 true）
	fs.Visit(func(f *gnuflag.Flag) {
		switch f.Name {
		case "dry-run":
			over.Sync.DryRun = &flagDryRun
		case "keep-stale":
			over.Sync.KeepStale = &flagKeepStale
		}
	})
	over.Components.Transfer = flagTransfer
	cfg, code := loadConfig(c, over)
	if code >= 0 {
		return code
	}
	comp, set, err := cfgpkg.AssembleSync(cfg, newRunner(stdout))
	if err != nil {
		return assemblyFailed(cfg, err)
	}

	rt := begin(cfg, c)
	defer rt.end()
	rt.logger.DebugStart("config", "effective", "", map[string]string{
		"manifest_url": set.ManifestURL,
		"data_dir":     set.DataDir,
		"concurrency":  fmt.Sprintf("%d", set.Concurrency),
		"max_retries":  fmt.Sprintf("%d", set.MaxRetries),
		"transfer":     cfg.Components.Transfer,
		"decompressor": cfg.Components.Decompressor,
		"dry_run":      fmt.Sprintf("%t", set.DryRun),
	})
	_, err = syncRun(rt.ctx, comp, set, rt.logger, stdout)
	return rt.finish(err)
}

func runInit(args []string) int {
	fs := gnuflag.NewFlagSet("init-config", gnuflag.ContinueOnError)
	fs.SetOutput(stderr)
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if fs.NArg() > 1 {
		fprintf(stderr, "%s", usage)
		return exitUsage
	}
	dir := "."
	if fs.NArg() == 1 {
		dir = fs.Arg(0)
	}
	path, err := cfgpkg.WriteTemplate(dir)
	if err != nil {
		fprintf(stderr, "生成默认配置失败: %v\n", err)
		return exitConfig
	}
	fprintf(stderr, "已生成 %s\n", path)
	return exitOK
}

// assemblyFailed 打印错误与有效配置，便于诊断。
func assemblyFailed(cfg cfgpkg.Config, err error) int {
	fprintf(stderr, "装配失败: %v\n", err)
	if errors.Is(err, errors.NotValid) {
		fprintf(stderr, "有效配置:\n")
		_ = dumpConfig(stderr, cfg)
	}
	return exitConfig
}

// loadConfig 按 Defaults < 文件/ADVENT_CONFIG_JSON < ENV < CLI 合并并返回配置；
// 失败时返回退出码（>=0），成功返回 -1。
func loadConfig(c common, over cfgpkg.Config) (cfgpkg.Config, int) {
	cfg := cfgpkg.Defaults()

	path := c.config
	if path == "" {
		path = os.Getenv("ADVENT_CONFIG_FILE")
	}
	// 默认读取工作目录下 config.json（若存在）
	if path == "" {
		if _, err := os.Stat(cfgpkg.TemplateFileName); err == nil {
			path = cfgpkg.TemplateFileName
		}
	}
	var (
		base cfgpkg.Config
		err  error
	)
	switch inline := os.Getenv("ADVENT_CONFIG_JSON"); {
	case inline != "":
		base, err = cfgpkg.LoadJSON("", []byte(inline))
	case path != "":
		base, err = cfgpkg.LoadFile(path)
	default:
		base.Sync.MaxRetries = -1
	}
	if err != nil {
		fprintf(stderr, "配置解析失败: %v\n", err)
		return cfg, exitConfig
	}
	cfg = cfgpkg.Merge(cfg, base)

	// ENV 覆盖（最小集合）
	env, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(stderr, "环境变量解析失败: %v\n", err)
		return cfg, exitConfig
	}
	cfg = cfgpkg.Merge(cfg, env)

	// CLI 覆盖
	over.Logging.Level = c.logLevel
	over.MetricsFile = c.metricsFile
	cfg = cfgpkg.Merge(cfg, over)
	return cfg, -1
}

// runtime 聚合一次运行的日志、终端、信号与指标。
type runtime struct {
	ctx     context.Context
	stop    context.CancelFunc
	start   time.Time
	logger  *diag.Logger
	term    *diag.Terminal
	metrics string
}

func begin(cfg cfgpkg.Config, c common) *runtime {
	corrID := uuid.NewString()
	level := strings.TrimSpace(cfg.Logging.Level)
	var logger *diag.Logger
	if cfg.Logging.Dir == "-" {
		logger = diag.NewWriterLogger(corrID, level, stderr)
	} else {
		logger = diag.NewFileLogger(corrID, level, cfgpkg.SinkOptions(cfg))
	}
	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(stderr, c.status)
	diag.SetTerminal(term)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return &runtime{ctx: ctx, stop: stop, start: time.Now(), logger: logger, term: term, metrics: cfg.MetricsFile}
}

// finish 记录首错并映射退出码。
func (rt *runtime) finish(err error) int {
	if err == nil {
		rt.logger.InfoFinish("cli", "run", rt.start, 0)
		diag.IncOp("cli", "finish", "success")
		diag.ObserveDuration("cli", "finish", time.Since(rt.start).Milliseconds())
		return exitOK
	}
	code := diag.Classify(err)
	rt.logger.ErrorWithKV("cli", string(code), "first error", &rt.start, "", map[string]string{"err": err.Error()})
	diag.IncOp("cli", "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError("cli", string(code))
	}
	switch {
	case errors.Is(err, context.Canceled):
		fprintf(stderr, "已取消\n")
	case errors.Is(err, errors.NotValid):
		fprintf(stderr, "配置错误: %v\n", err)
		return exitConfig
	default:
		fprintf(stderr, "运行失败: %v\n", err)
	}
	return exitRuntime
}

func (rt *runtime) end() {
	rt.stop()
	diag.SetTerminal(nil)
	if err := diag.WriteMetrics(rt.metrics); err != nil {
		fprintf(stderr, "写出指标失败: %v\n", err)
	}
	_ = rt.logger.Close()
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

// dumpConfig 以 JSON 打印有效配置（诊断用）。
func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	_, err = w.Write(append(b, '\n'))
	return errors.Trace(err)
}

package pipeline

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"advent/internal/diag"
	"advent/internal/rate"
	"advent/pkg/contract"
)

// - 单点并发：仅此层管理并发；原子组件均为同步、无内部并发。
// - 条目内严格有序：下载完成并通过校验后才开始解压。
// - 首错语义：抓取/提取失败立即返回；单条目失败记录首错，其余条目继续，结束后返回首错。

// Components 聚合运行所需的原子组件。
// depths 只需要 Reader/Parser/Counter；sync 只需要其余四个。
type Components struct {
	Reader  contract.Reader
	Parser  contract.Parser
	Counter contract.Counter

	Fetcher      contract.Fetcher
	Extractor    contract.Extractor
	Transfer     contract.Transfer
	Decompressor contract.Decompressor
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// depths 的输入根
	Inputs []string

	// sync
	ManifestURL string
	DataDir     string
	StemPattern string
	Concurrency int
	// MaxRetries: 下载+校验的最大重试次数（>=0）。0 表示不重试。
	MaxRetries int
	RetryDelay time.Duration
	// DecompressExisting: 仅存在压缩文件时是否校验并解压（从不重新下载）。
	DecompressExisting bool
	// KeepStale: 校验失败的压缩文件保留在原处，便于排查；默认删除。
	KeepStale bool
	DryRun    bool

	// 限流闸门（可选）：若非空，则每次下载前按主机调用 Gate.Wait
	Gate rate.Gate
	// Clock 供重试退避使用；nil 时使用 clock.WallClock。
	Clock clock.Clock
}

func sanityCount(c Components, s Settings) error {
	if c.Reader == nil || c.Parser == nil || c.Counter == nil {
		return errors.NotValidf("pipeline: missing depths components")
	}
	if len(s.Inputs) == 0 {
		return errors.NotValidf("pipeline: empty inputs")
	}
	return nil
}

func sanitySync(c Components, s Settings) error {
	if c.Fetcher == nil || c.Extractor == nil || c.Transfer == nil || c.Decompressor == nil {
		return errors.NotValidf("pipeline: missing sync components")
	}
	if s.ManifestURL == "" {
		return errors.NotValidf("pipeline: empty manifest url")
	}
	if s.DataDir == "" {
		return errors.NotValidf("pipeline: empty data dir")
	}
	if s.MaxRetries < 0 {
		return errors.NotValidf("pipeline: max retries %d", s.MaxRetries)
	}
	return nil
}

// fail 记录组件错误事件与指标；返回原错误便于链式 return。
func fail(logger *diag.Logger, comp, msg string, t *diag.Timer, fileID string, kv map[string]string, err error) error {
	code := diag.Classify(err)
	if kv == nil {
		kv = map[string]string{}
	}
	kv["err"] = err.Error()
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv["http_status"] = itoa(ue.UpstreamStatus())
		if m := ue.UpstreamMessage(); m != "" {
			kv["upstream_msg"] = m
		}
	}
	logger.ErrorWithKV(comp, string(code), msg, t.Since(), fileID, kv)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	return err
}

// ok 记录 finish 事件、耗时与成功计数。
func ok(comp, msg string, t *diag.Timer, count int64) {
	if t == nil {
		return
	}
	if since := t.Since(); since != nil {
		diag.ObserveDuration(comp, "finish", time.Since(*since).Milliseconds())
	}
	t.Finish(msg, count)
	diag.IncOp(comp, "finish", "success")
}

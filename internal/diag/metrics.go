package diag

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// 指标（私有 registry，不注册到默认全局）：
// - advent_op_total{comp,stage,result}
// - advent_error_total{comp,code}
// - advent_op_duration_ms{comp,stage}
// - advent_download_bytes_total
var (
	registry = prometheus.NewRegistry()

	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "advent",
		Name:      "op_total",
		Help:      "Operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})

	errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "advent",
		Name:      "error_total",
		Help:      "Errors by component and classified code.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "advent",
		Name:      "op_duration_ms",
		Help:      "Stage duration in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"comp", "stage"})

	downloadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "advent",
		Name:      "download_bytes_total",
		Help:      "Bytes written by completed downloads.",
	})
)

func init() {
	registry.MustRegister(opTotal, errorTotal, opDuration, downloadBytes)
}

// IncOp 累加操作计数（result=success|error|skip）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// AddDownloadBytes 累加已完成下载的字节数。
func AddDownloadBytes(n int64) {
	if n > 0 {
		downloadBytes.Add(float64(n))
	}
}

// Registry 返回私有 registry（测试与导出使用）。
func Registry() *prometheus.Registry { return registry }

// WriteMetrics 以 node-exporter textfile 格式写出全部指标；path 为空时跳过。
func WriteMetrics(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(prometheus.WriteToTextfile(path, registry), "write metrics %s", path)
}

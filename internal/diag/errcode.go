package diag

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/juju/errors"

	"advent/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeTool      Code = "tool"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 只依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrToolMissing) || errors.Is(err, contract.ErrToolFailed) {
		return CodeTool
	}
	// 协议/响应
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	// 不变量
	if errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) ||
		errors.Is(err, contract.ErrIdentifierNotFound) ||
		errors.Is(err, errors.NotValid) {
		return CodeInvariant
	}
	// I/O（含下载不完整）
	if errors.Is(err, contract.ErrDownloadIncomplete) {
		return CodeIO
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	// 网络（连接/超时/上游 5xx）
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// Retryable 判定错误是否值得重试：网络类与下载不完整可重试，
// 取消、工具缺失与不变量错误不可重试。
func Retryable(err error) bool {
	switch Classify(err) {
	case CodeNetwork:
		return true
	case CodeIO:
		return errors.Is(err, contract.ErrDownloadIncomplete)
	case CodeTool:
		// 工具非零退出（例如 curl 网络失败）可重试；工具缺失不可。
		return errors.Is(err, contract.ErrToolFailed)
	}
	return false
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

package contract

import "github.com/juju/errors"

// 最小错误分类（用于上层策略判定与日志分类）。
const (
	// ErrInvalidInput: 输入内容不合法（例如无法解析为整数的行）。
	ErrInvalidInput = errors.ConstError("invalid input")
	// ErrPathInvalid: 标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.ConstError("path invalid")
	// ErrIdentifierNotFound: 匹配到的 URL 中无法提取文件标识。
	ErrIdentifierNotFound = errors.ConstError("identifier not found")
	// ErrDownloadIncomplete: 下载结束后文件缺失、为空或未通过完整性校验。
	ErrDownloadIncomplete = errors.ConstError("download incomplete")
	// ErrToolMissing: 外部工具不在 PATH 中。
	ErrToolMissing = errors.ConstError("tool missing")
	// ErrToolFailed: 外部工具以非零状态退出。
	ErrToolFailed = errors.ConstError("tool failed")
	// ErrResponseInvalid: 上游响应不可用（状态码/内容）。
	ErrResponseInvalid = errors.ConstError("response invalid")
)

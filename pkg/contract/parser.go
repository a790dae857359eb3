package contract

import (
	"context"
	"io"
)

// Parser: 将单文件字节流解析为有序整数序列。
// 约束：
// 1) 不跨文件合并；
// 2) 保持输入顺序；
// 3) 任一行无法解析即整体失败（错误需包含 FileID 与行号）；
// 4) 无内部并发。
type Parser interface {
	Parse(ctx context.Context, fileID FileID, r io.Reader) ([]int64, error)
}

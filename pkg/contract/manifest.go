package contract

import "context"

// Fetcher: 获取清单页面的完整内容。
// 网络错误与非 2xx 响应均返回错误；不做重试。
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor: 从页面内容中提取清单条目。
// 约束：
// 1) 按页面出现顺序返回，重复 URL 只保留首个；
// 2) 每个匹配的 URL 都必须能派生出 Stem，否则返回 ErrIdentifierNotFound；
// 3) 纯计算，不做 I/O。
type Extractor interface {
	Extract(ctx context.Context, page []byte) ([]Entry, error)
}

// Transfer: 将远端资源下载到 dest（必要时创建父目录）。
// 返回写入的字节数；返回 nil 时下载进程/请求已完全结束。
type Transfer interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}

// Decompressor: 压缩文件的完整性校验与原地解压。
// Decompress 成功后压缩文件被移除，解压结果位于去掉 Suffix 的同名路径。
type Decompressor interface {
	Suffix() string
	Verify(ctx context.Context, path string) error
	Decompress(ctx context.Context, path string) error
}

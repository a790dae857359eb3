package httpdl

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"

	"advent/internal/httpx"
	"advent/pkg/contract"
)

// Options: 进程内 HTTP 下载的可选配置。
type Options struct {
	// TimeoutSeconds: 单次下载的 client 级超时（秒），默认 1800。
	TimeoutSeconds int    `json:"timeout_seconds"`
	UserAgent      string `json:"user_agent"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认。
	BufSize int `json:"buf_size,omitempty"`
}

// Downloader 将响应体写入同目录临时文件，完成后 rename 到目标路径。
// 目标路径只会出现完整内容。
type Downloader struct {
	ua      string
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
	do      func(*http.Request) (*http.Response, error)
}

// New 创建下载器。
func New(opts *Options) (*Downloader, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 1800
	}
	if strings.TrimSpace(o.UserAgent) == "" {
		o.UserAgent = httpx.DefaultUserAgent
	}
	if o.BufSize <= 0 {
		o.BufSize = 256 * 1024
	}
	if o.PermFile == 0 {
		o.PermFile = 0o644
	}
	if o.PermDir == 0 {
		o.PermDir = 0o755
	}
	hc := httpx.NewClient(o.TimeoutSeconds)
	return &Downloader{ua: o.UserAgent, permF: o.PermFile, permD: o.PermDir, bufSize: o.BufSize, do: hc.Do}, nil
}

// Download 下载 rawURL 到 dest（自动创建父目录）。
// 声明了 Content-Length 时，实际字节数不符返回 ErrDownloadIncomplete。
func (d *Downloader) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	if err := httpx.CheckURL(rawURL); err != nil {
		return 0, err
	}
	if strings.TrimSpace(dest) == "" {
		return 0, errors.Annotatef(contract.ErrPathInvalid, "empty destination")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, errors.Annotatef(contract.ErrInvalidInput, "new request: %v", err)
	}
	req.Header.Set("User-Agent", d.ua)
	resp, err := d.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, errors.Trace(err)
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus(resp); err != nil {
		return 0, err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, d.permD); err != nil {
		return 0, errors.Trace(err)
	}
	return d.writeAtomic(ctx, dest, resp.Body, resp.ContentLength)
}

func (d *Downloader) writeAtomic(ctx context.Context, dest string, r io.Reader, want int64) (int64, error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".part-*")
	if err != nil {
		return 0, errors.Trace(err)
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, d.permF)
	fail := func(err error) (int64, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, err
	}

	bw := bufio.NewWriterSize(tmp, d.bufSize)
	n, err := io.Copy(bw, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return fail(errors.Annotatef(err, "download %s", filepath.Base(dest)))
	}
	if want >= 0 && n != want {
		return fail(errors.Annotatef(contract.ErrDownloadIncomplete, "%s: got %d of %d bytes", filepath.Base(dest), n, want))
	}
	if err := bw.Flush(); err != nil {
		return fail(errors.Trace(err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(errors.Trace(err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, errors.Trace(err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return 0, errors.Trace(err)
	}
	// 最佳努力：同步父目录
	_ = syncDir(dir)
	return n, nil
}

// ctxReader: 在每次 Read 前检查 ctx 是否已取消。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

var _ contract.Transfer = (*Downloader)(nil)

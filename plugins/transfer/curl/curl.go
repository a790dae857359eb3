package curl

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"advent/internal/httpx"
	"advent/internal/proc"
	"advent/pkg/contract"
)

// Options 为 curl 传输配置。
type Options struct {
	// Binary: 可执行文件名或路径，默认 "curl"。
	Binary string `json:"binary"`
	// ConnectTimeoutSeconds: --connect-timeout；0 表示不设置。
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds"`
	// MaxTimeSeconds: --max-time；0 表示不设置。
	MaxTimeSeconds int `json:"max_time_seconds"`
	// UserAgent: --user-agent；为空使用 curl 默认。
	UserAgent string `json:"user_agent"`
}

// Curl 通过外部 curl 下载文件。
type Curl struct {
	run       proc.Runner
	bin       string
	connectTO int
	maxTime   int
	userAgent string
}

// New 创建 curl 传输。
func New(opts *Options, run proc.Runner) (*Curl, error) {
	if run == nil {
		return nil, errors.NotValidf("nil runner")
	}
	c := &Curl{run: run, bin: "curl"}
	if opts != nil {
		if b := strings.TrimSpace(opts.Binary); b != "" {
			c.bin = b
		}
		if opts.ConnectTimeoutSeconds < 0 || opts.MaxTimeSeconds < 0 {
			return nil, errors.NotValidf("negative timeout")
		}
		c.connectTO = opts.ConnectTimeoutSeconds
		c.maxTime = opts.MaxTimeSeconds
		c.userAgent = opts.UserAgent
	}
	return c, nil
}

// Download 以 argv 调用 curl 下载到 dest，并返回落盘字节数。
// --fail 使 HTTP 错误状态以非零退出；--create-dirs 创建父目录。
func (c *Curl) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	if err := httpx.CheckURL(rawURL); err != nil {
		return 0, err
	}
	if strings.TrimSpace(dest) == "" {
		return 0, errors.Annotatef(contract.ErrPathInvalid, "empty destination")
	}
	args := []string{"--fail", "--silent", "--show-error", "--location", "--create-dirs", "--output", dest}
	if c.connectTO > 0 {
		args = append(args, "--connect-timeout", strconv.Itoa(c.connectTO))
	}
	if c.maxTime > 0 {
		args = append(args, "--max-time", strconv.Itoa(c.maxTime))
	}
	if c.userAgent != "" {
		args = append(args, "--user-agent", c.userAgent)
	}
	args = append(args, "--url", rawURL)
	if _, err := c.run.Run(ctx, c.bin, args...); err != nil {
		return 0, errors.Trace(err)
	}
	// 文件是否真正落盘由调用方的下载后校验负责
	st, err := os.Stat(dest)
	if err != nil {
		return 0, nil
	}
	return st.Size(), nil
}

var _ contract.Transfer = (*Curl)(nil)

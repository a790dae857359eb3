package httpget

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/juju/errors"

	"advent/internal/httpx"
	"advent/pkg/contract"
)

// Options: 页面抓取的可选配置。
type Options struct {
	TimeoutSeconds int               `json:"timeout_seconds"` // client 级超时（秒），默认 60
	UserAgent      string            `json:"user_agent"`
	MaxBytes       int64             `json:"max_bytes"` // 页面大小上限，默认 8 MiB
	Headers        map[string]string `json:"headers"`   // 追加/覆盖请求头
}

// Fetcher 以单次 GET 获取清单页面，不做重试。
type Fetcher struct {
	ua      string
	max     int64
	headers map[string]string
	do      func(*http.Request) (*http.Response, error)
}

// New 创建页面抓取器。
func New(opts *Options) (*Fetcher, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.MaxBytes < 0 {
		return nil, errors.NotValidf("max_bytes %d", o.MaxBytes)
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = 8 << 20
	}
	if strings.TrimSpace(o.UserAgent) == "" {
		o.UserAgent = httpx.DefaultUserAgent
	}
	hc := httpx.NewClient(o.TimeoutSeconds)
	return &Fetcher{ua: o.UserAgent, max: o.MaxBytes, headers: o.Headers, do: hc.Do}, nil
}

// Fetch 返回页面全部字节。非 2xx 与超限均为错误。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := httpx.CheckURL(rawURL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Annotatef(contract.ErrInvalidInput, "new request: %v", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,*/*;q=0.8")
	for k, v := range f.headers {
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
	}
	resp, err := f.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Trace(err)
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.max+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Annotatef(err, "read %s", rawURL)
	}
	if int64(len(body)) > f.max {
		return nil, errors.Annotatef(contract.ErrResponseInvalid, "page exceeds %d bytes", f.max)
	}
	return body, nil
}

var _ contract.Fetcher = (*Fetcher)(nil)

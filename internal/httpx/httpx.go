// Package httpx 收拢清单页面与 HTTP 下载共用的最小 HTTP 约定：
// URL 校验、默认客户端与上游状态码到错误的映射。
package httpx

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"

	"advent/pkg/contract"
)

// DefaultUserAgent 为未配置时的 User-Agent。
const DefaultUserAgent = "advent-sync/1"

// DefaultTimeout 为未配置时的 client 级超时。
const DefaultTimeout = 60 * time.Second

// CheckURL 只接受带主机名的绝对 http(s) URL。
func CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Annotatef(contract.ErrInvalidInput, "url %q: %v", rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Annotatef(contract.ErrInvalidInput, "url %q: want absolute http(s)", rawURL)
	}
	return nil
}

// NewClient 返回带超时的 http.Client；seconds<=0 使用 DefaultTimeout。
func NewClient(seconds int) *http.Client {
	to := DefaultTimeout
	if seconds > 0 {
		to = time.Duration(seconds) * time.Second
	}
	return &http.Client{Timeout: to}
}

// UpstreamError 实现 net.Error，用于将 5xx/408 映射为网络类错误，便于分类。
type UpstreamError struct {
	Status int
	Msg    string
}

func (e UpstreamError) Error() string           { return fmt.Sprintf("upstream %d: %s", e.Status, e.Msg) }
func (e UpstreamError) Timeout() bool           { return e.Status == http.StatusRequestTimeout }
func (e UpstreamError) Temporary() bool         { return e.Status/100 == 5 }
func (e UpstreamError) UpstreamStatus() int     { return e.Status }
func (e UpstreamError) UpstreamMessage() string { return e.Msg }

var _ contract.UpstreamError = UpstreamError{}

// CheckStatus 对非 2xx 响应返回错误，并读取少量响应体辅助定位。
// 408/429/5xx 为 UpstreamError（可重试）；其余 4xx 为 ErrResponseInvalid。
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := strings.TrimSpace(string(slurp))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode/100 == 5:
		return UpstreamError{Status: resp.StatusCode, Msg: msg}
	}
	where := "response"
	if resp.Request != nil && resp.Request.URL != nil {
		where = resp.Request.URL.Redacted()
	}
	return errors.Annotatef(contract.ErrResponseInvalid, "%s: status %d", where, resp.StatusCode)
}

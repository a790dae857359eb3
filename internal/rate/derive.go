package rate

import (
	"net/url"
	"strings"

	"github.com/juju/errors"
)

// DeriveKey 以 URL 的主机（含端口，小写）作为限流分组键。
func DeriveKey(rawURL string) (LimitKey, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Annotatef(err, "rate: parse %q", rawURL)
	}
	if u.Host == "" {
		return "", errors.NotValidf("rate: url %q without host", rawURL)
	}
	return LimitKey(strings.ToLower(u.Host)), nil
}

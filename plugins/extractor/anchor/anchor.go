package anchor

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/net/html"

	"advent/pkg/contract"
)

// Options 为锚点提取器的可选配置。
type Options struct {
	// Suffix: 需要收集的链接后缀，默认 ".xz"。
	Suffix string `json:"suffix"`
	// InputSuffix: Stem 之后紧跟的后缀，默认 ".in.xz"。
	InputSuffix string `json:"input_suffix"`
	// StemPattern: Stem 的正则，默认 `\d+-[\w-]+`。
	StemPattern string `json:"stem_pattern"`
}

// Extractor 基于 HTML tokenizer 收集 <a href>。
type Extractor struct {
	suffix      string
	inputSuffix string
	stem        *regexp.Regexp
}

// New 创建提取器；StemPattern 无法编译时返回错误。
func New(opts *Options) (*Extractor, error) {
	e := &Extractor{suffix: ".xz", inputSuffix: contract.DefaultInputSuffix}
	pat := contract.DefaultStemPattern
	if opts != nil {
		if opts.Suffix != "" {
			e.suffix = opts.Suffix
		}
		if opts.InputSuffix != "" {
			e.inputSuffix = opts.InputSuffix
		}
		if opts.StemPattern != "" {
			pat = opts.StemPattern
		}
	}
	if !strings.HasSuffix(e.inputSuffix, e.suffix) {
		return nil, errors.NotValidf("input_suffix %q without suffix %q", e.inputSuffix, e.suffix)
	}
	re, err := regexp.Compile(`(?:` + pat + `)$`)
	if err != nil {
		return nil, errors.NotValidf("stem_pattern %q: %v", pat, err)
	}
	e.stem = re
	return e, nil
}

// Extract 按页面顺序返回条目，按链接与标识去重（先出现者保留）。
func (e *Extractor) Extract(ctx context.Context, page []byte) ([]contract.Entry, error) {
	z := html.NewTokenizer(bytes.NewReader(page))
	seen := make(map[string]struct{})
	stems := make(map[string]struct{})
	var out []contract.Entry
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, errors.Annotatef(contract.ErrResponseInvalid, "html: %v", err)
			}
			return out, nil
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if !hasAttr || string(name) != "a" {
			continue
		}
		href, ok := hrefOf(z)
		if !ok || !e.linked(href) {
			continue
		}
		if _, dup := seen[href]; dup {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen[href] = struct{}{}
		stem, err := e.Stem(href)
		if err != nil {
			return nil, err
		}
		// 同一标识的镜像链接只保留首个
		if _, dup := stems[stem]; dup {
			continue
		}
		stems[stem] = struct{}{}
		out = append(out, contract.Entry{URL: href, Stem: stem})
	}
}

// Stem 从 URL 路径的最后一段派生文件标识。
func (e *Extractor) Stem(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Annotatef(contract.ErrIdentifierNotFound, "%q: %v", rawURL, err)
	}
	base := path.Base(u.Path)
	if !strings.HasSuffix(base, e.inputSuffix) {
		return "", errors.Annotatef(contract.ErrIdentifierNotFound, "%q: no %s suffix", rawURL, e.inputSuffix)
	}
	m := e.stem.FindString(strings.TrimSuffix(base, e.inputSuffix))
	if m == "" {
		return "", errors.Annotatef(contract.ErrIdentifierNotFound, "%q", rawURL)
	}
	return m, nil
}

// linked: 绝对 http(s) URL，且路径以 suffix 结尾。
func (e *Extractor) linked(href string) bool {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.HasSuffix(u.Path, e.suffix)
}

func hrefOf(z *html.Tokenizer) (string, bool) {
	for {
		k, v, more := z.TagAttr()
		if string(k) == "href" {
			return strings.TrimSpace(string(v)), true
		}
		if !more {
			return "", false
		}
	}
}

var _ contract.Extractor = (*Extractor)(nil)

package lines

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"advent/pkg/contract"
)

// Options 为逐行整数解析器的可选配置。
type Options struct {
	// MaxLineBytes: 单行最大字节数；<=0 采用默认 64KiB。
	MaxLineBytes int `json:"max_line_bytes"`
	// Base: 数值进制（2..36）；0 表示十进制。
	Base int `json:"base"`
	// SkipBlank: 忽略空白行；默认关闭，空行与其他格式错误一样使解析失败。
	SkipBlank bool `json:"skip_blank"`
}

// Parser 每行解析一个整数。
// 行首尾空白被忽略；CRLF 视同 LF。
type Parser struct {
	maxLine   int
	base      int
	skipBlank bool
}

// New 创建解析器。
func New(opts *Options) (*Parser, error) {
	p := &Parser{maxLine: 64 * 1024, base: 10}
	if opts == nil {
		return p, nil
	}
	if opts.MaxLineBytes > 0 {
		p.maxLine = opts.MaxLineBytes
	}
	if opts.Base != 0 {
		if opts.Base < 2 || opts.Base > 36 {
			return nil, errors.NotValidf("base %d", opts.Base)
		}
		p.base = opts.Base
	}
	p.skipBlank = opts.SkipBlank
	return p, nil
}

// Parse 读取全部行并按顺序返回整数序列。
// 任一行解析失败即整体失败，错误带 FileID 与行号并可用 ErrInvalidInput 判定。
func (p *Parser) Parse(ctx context.Context, fileID contract.FileID, r io.Reader) ([]int64, error) {
	sc := bufio.NewScanner(r)
	// 初始容量不超过上限：Scanner 以 max(cap, maxLine) 作为单行上限
	initial := 4096
	if p.maxLine < initial {
		initial = p.maxLine
	}
	sc.Buffer(make([]byte, 0, initial), p.maxLine)
	var out []int64
	lineNo := 0
	for sc.Scan() {
		lineNo++
		// 每 4096 行检查一次取消
		if lineNo&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			if p.skipBlank {
				continue
			}
			return nil, errors.Annotatef(contract.ErrInvalidInput, "%s line %d: blank line", fileID, lineNo)
		}
		v, err := strconv.ParseInt(s, p.base, 64)
		if err != nil {
			return nil, errors.Annotatef(contract.ErrInvalidInput, "%s line %d: cannot parse %q", fileID, lineNo, s)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Annotatef(err, "reading %s", fileID)
	}
	return out, nil
}

var _ contract.Parser = (*Parser)(nil)

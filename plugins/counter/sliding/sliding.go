package sliding

import (
	"github.com/juju/errors"

	"advent/pkg/contract"
)

// DefaultWindow 为默认窗口大小（三点滑动和）。
const DefaultWindow = 3

// Options 为滑动窗口计数器的可选配置。
type Options struct {
	// Window: 窗口大小（>=1）。0 表示采用默认 3；1 即逐项比较。
	Window int `json:"window"`
}

// Counter 统计“后一个窗口之和大于前一个窗口之和”的次数。
// 相邻窗口重叠 Window-1 个元素。
type Counter struct {
	window int
}

// New 创建滑动窗口计数器。
func New(opts *Options) (*Counter, error) {
	w := DefaultWindow
	if opts != nil && opts.Window != 0 {
		w = opts.Window
	}
	if w < 1 {
		return nil, errors.NotValidf("window size %d", w)
	}
	return &Counter{window: w}, nil
}

// Window 返回生效的窗口大小。
func (c *Counter) Window() int { return c.window }

// Count 对 i ∈ [0, n-w-1] 统计 sum(seq[i+1..i+w]) > sum(seq[i..i+w-1])。
// 使用滑动和：每步加入新元素、移出最旧元素，O(n)。
// 长度不足 w+1 时返回 0。
func (c *Counter) Count(seq []int64) int {
	w := c.window
	n := len(seq)
	if n < w+1 {
		return 0
	}
	var cur int64
	for _, v := range seq[:w] {
		cur += v
	}
	increases := 0
	for i := 0; i+w < n; i++ {
		next := cur + seq[i+w] - seq[i]
		if next > cur {
			increases++
		}
		cur = next
	}
	return increases
}

var _ contract.Counter = (*Counter)(nil)

package sliding

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = []int64{199, 200, 208, 210, 200, 207, 240, 269, 260, 263}

// naive 逐窗口重新求和，作为对照实现。
func naive(seq []int64, w int) int {
	n := 0
	for i := 0; i+w < len(seq); i++ {
		var a, b int64
		for k := 0; k < w; k++ {
			a += seq[i+k]
			b += seq[i+1+k]
		}
		if b > a {
			n++
		}
	}
	return n
}

func TestCountSample(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Window())
	assert.Equal(t, 5, c.Count(sample))
}

// 窗口为 1 时退化为逐项比较。
func TestCountWindowOne(t *testing.T) {
	c, err := New(&Options{Window: 1})
	require.NoError(t, err)
	assert.Equal(t, 7, c.Count(sample))
}

func TestCountShortSequences(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	for _, seq := range [][]int64{nil, {}, {1}, {1, 2}, {1, 2, 3}} {
		assert.Equal(t, 0, c.Count(seq), "seq=%v", seq)
	}
	// 4 个元素时恰好比较一次
	assert.Equal(t, 1, c.Count([]int64{1, 2, 3, 4}))
}

// 追加比已有元素都小的尾部值不会增加计数。
func TestCountDecreasingTail(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	base := c.Count(sample)
	seq := append([]int64(nil), sample...)
	for v := int64(100); v > 90; v-- {
		seq = append(seq, v)
		assert.Equal(t, base, c.Count(seq), "after appending %d", v)
	}
}

func TestCountMatchesNaive(t *testing.T) {
	seq := []int64{5, -3, 8, 8, 1, 0, 12, -7, 4, 4, 4, 9, -1, 30, 2}
	for w := 1; w <= len(seq)+1; w++ {
		c, err := New(&Options{Window: w})
		require.NoError(t, err)
		assert.Equal(t, naive(seq, w), c.Count(seq), "window=%d", w)
	}
}

func TestCountDoesNotMutate(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	seq := append([]int64(nil), sample...)
	_ = c.Count(seq)
	assert.Equal(t, sample, seq)
}

func TestNewRejectsBadWindow(t *testing.T) {
	_, err := New(&Options{Window: -2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotValid))
}

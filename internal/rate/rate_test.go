package rate

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 超过 RPM
func TestGateTryLimit(t *testing.T) {
	g := NewGate(Limits{RPM: 1}, nil)
	assert.True(t, g.Try("k"), "首次应通过")
	assert.False(t, g.Try("k"), "应因 RPM 拒绝")
	// 分组之间互不影响
	assert.True(t, g.Try("other"))
}

func TestGateBurst(t *testing.T) {
	g := NewGate(Limits{RPM: 1, Burst: 3}, nil)
	for i := 0; i < 3; i++ {
		assert.True(t, g.Try("k"), i)
	}
	assert.False(t, g.Try("k"))
}

func TestGateUnlimited(t *testing.T) {
	g := NewGate(Limits{}, map[LimitKey]Limits{"slow": {RPM: 1}})
	for i := 0; i < 100; i++ {
		require.True(t, g.Try("fast"))
	}
	require.NoError(t, g.Wait(context.Background(), "fast"))
	assert.True(t, g.Try("slow"))
	assert.False(t, g.Try("slow"))
}

// 取消上下文
func TestGateWaitCancel(t *testing.T) {
	g := NewGate(Limits{RPM: 1}, nil)
	require.True(t, g.Try("k"))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := g.Wait(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

// 等待超出截止时间时立即返回
func TestGateWaitDeadline(t *testing.T) {
	g := NewGate(Limits{RPM: 1}, nil)
	require.True(t, g.Try("k"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	err := g.Wait(ctx, "k")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDeriveKey(t *testing.T) {
	k, err := DeriveKey("https://The-TK.com/project/x.in.xz")
	require.NoError(t, err)
	assert.Equal(t, LimitKey("the-tk.com"), k)

	k, err = DeriveKey("http://127.0.0.1:8080/a")
	require.NoError(t, err)
	assert.Equal(t, LimitKey("127.0.0.1:8080"), k)

	_, err = DeriveKey("/relative")
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = DeriveKey("http://[::1")
	assert.Error(t, err)
}

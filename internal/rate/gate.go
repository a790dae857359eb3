// Package rate 为下载请求提供按主机分组的限流闸门。
package rate

import (
	"context"
	"sync"

	"github.com/juju/errors"
	xrate "golang.org/x/time/rate"
)

// LimitKey: 限流分组键（例如主机名）。
type LimitKey string

// Limits: 每分组的限额配置。RPM 为 0 表示不限流。
type Limits struct {
	RPM   int // requests per minute
	Burst int // 允许的突发请求数；<=0 时取 1
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消。
	Wait(ctx context.Context, key LimitKey) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(key LimitKey) bool
}

// NewGate: def 作用于所有未单独配置的分组；per 为按键覆盖。
func NewGate(def Limits, per map[LimitKey]Limits) Gate {
	g := &gate{def: def, per: per, m: make(map[LimitKey]*xrate.Limiter)}
	return g
}

type gate struct {
	def Limits
	per map[LimitKey]Limits

	mu sync.Mutex
	m  map[LimitKey]*xrate.Limiter
}

func (g *gate) Wait(ctx context.Context, key LimitKey) error {
	if err := g.get(key).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// 等待时间超出 ctx 截止时间
		return errors.Annotatef(err, "rate %s", key)
	}
	return nil
}

func (g *gate) Try(key LimitKey) bool { return g.get(key).Allow() }

// get 懒创建分组的令牌桶；首次创建时桶为满。
func (g *gate) get(key LimitKey) *xrate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l := g.m[key]; l != nil {
		return l
	}
	lim, ok := g.per[key]
	if !ok {
		lim = g.def
	}
	l := newLimiter(lim)
	g.m[key] = l
	return l
}

func newLimiter(lim Limits) *xrate.Limiter {
	if lim.RPM <= 0 {
		return xrate.NewLimiter(xrate.Inf, 0)
	}
	burst := lim.Burst
	if burst <= 0 {
		burst = 1
	}
	return xrate.NewLimiter(xrate.Limit(float64(lim.RPM)/60.0), burst)
}

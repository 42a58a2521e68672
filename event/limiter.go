package event

import (
	"context"
	"sync/atomic"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// publishLimiter throttles bus publishes. Two implementations exist: a token
// bucket allowing bursts and a leaky bucket with evenly spaced publishes.
type publishLimiter interface {
	take(ctx context.Context) error
}

// tokenLimiter implements token bucket throttling. The limiter pointer is
// swapped atomically so limits can be adjusted at runtime without a lock.
type tokenLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

func newTokenLimiter(limit int, burst int) *tokenLimiter {
	l := &tokenLimiter{}
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
	return l
}

func (l *tokenLimiter) take(ctx context.Context) error {
	return l.limiter.Load().Wait(ctx)
}

func (l *tokenLimiter) reload(limit int, burst int) {
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
}

// funnelLimiter implements leaky bucket throttling for deterministic,
// evenly spaced delivery.
type funnelLimiter struct {
	limiter atomic.Pointer[ratelimit.Limiter]
}

func newFunnelLimiter(limit int) *funnelLimiter {
	lim := ratelimit.New(limit)
	l := &funnelLimiter{}
	l.limiter.Store(&lim)
	return l
}

func (l *funnelLimiter) take(_ context.Context) error {
	_ = (*l.limiter.Load()).Take()
	return nil
}

func (l *funnelLimiter) reload(limit int) {
	lim := ratelimit.New(limit)
	l.limiter.Store(&lim)
}

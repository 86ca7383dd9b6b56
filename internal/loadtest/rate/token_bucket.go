// Package rate provides the token bucket that throttles transaction
// admission to a target rate.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TokenBucket admits work at a steady refill rate up to a burst capacity.
//
// Refill is continuous: tokens accumulate fractionally with elapsed time
// rather than in discrete per-second ticks, so instantaneous throughput
// stays close to the target instead of sawtoothing at sub-second
// granularity.
//
// # Thread Safety
//
// TokenBucket is safe for concurrent use from every worker goroutine.
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	capacity   float64
	tokens     float64
	lastRefill time.Time
	enabled    bool

	totalAcquired atomic.Int64
	totalWaitNano atomic.Int64
}

// NewTokenBucket creates a limiter targeting rate transactions per second.
// Capacity is max(rate, 1) tokens. A rate of zero or less disables the
// limiter entirely: Acquire never blocks.
func NewTokenBucket(rate float64) *TokenBucket {
	tb := &TokenBucket{rate: rate, enabled: rate > 0}
	if tb.enabled {
		tb.capacity = rate
		if tb.capacity < 1 {
			tb.capacity = 1
		}
		tb.tokens = tb.capacity
		tb.lastRefill = time.Now()
	}
	return tb
}

// Enabled reports whether a target rate is configured.
func (tb *TokenBucket) Enabled() bool { return tb.enabled }

// Rate returns the configured target rate in tokens per second.
func (tb *TokenBucket) Rate() float64 { return tb.rate }

// Capacity returns the bucket's burst size in tokens.
func (tb *TokenBucket) Capacity() float64 { return tb.capacity }

// Acquire blocks until a token is available or ctx is done. With no target
// rate configured it returns immediately.
func (tb *TokenBucket) Acquire(ctx context.Context) error {
	if !tb.enabled {
		return ctx.Err()
	}

	start := time.Now()
	for {
		wait, ok := tb.take()
		if ok {
			tb.totalAcquired.Add(1)
			tb.totalWaitNano.Add(int64(time.Since(start)))
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// take consumes a token if one is available. Otherwise it returns how long
// the caller should wait before the next token exists.
func (tb *TokenBucket) take() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return 0, true
	}

	deficit := 1 - tb.tokens
	return time.Duration(deficit / tb.rate * float64(time.Second)), false
}

// Stats returns cumulative admission statistics.
func (tb *TokenBucket) Stats() Stats {
	tb.mu.Lock()
	tokens := tb.tokens
	tb.mu.Unlock()
	return Stats{
		Rate:          tb.rate,
		Tokens:        tokens,
		TotalAcquired: tb.totalAcquired.Load(),
		TotalWait:     time.Duration(tb.totalWaitNano.Load()),
	}
}

// Stats describes the limiter's cumulative behavior.
type Stats struct {
	Rate          float64       `json:"rate"`
	Tokens        float64       `json:"tokens"`
	TotalAcquired int64         `json:"totalAcquired"`
	TotalWait     time.Duration `json:"totalWait"`
}

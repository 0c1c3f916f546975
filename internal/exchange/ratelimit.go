// ratelimit.go implements token-bucket rate limiting for the venue APIs.
//
// The CLOB enforces per-category rate limits measured in requests per
// 10-second windows. Buckets refill continuously (rather than in 10s
// bursts) to stay clear of hard limits. The catalog and data APIs have
// looser published limits but share the same mechanism so a discovery
// burst can never trip the venue's CF-style blocking.
//
// Buckets:
//   - Order:   350 burst / 50 per sec  (3500 per 10s window)
//   - Cancel:  300 burst / 30 per sec  (3000 per 10s window)
//   - Book:    150 burst / 15 per sec  (1500 per 10s window)
//   - Catalog:  30 burst /  5 per sec  (gamma events + prices)
//   - Data:     30 burst /  5 per sec  (positions)
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is
// cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by endpoint category. Each operation
// must call the appropriate bucket's Wait() before making the HTTP request.
type RateLimiter struct {
	Order   *TokenBucket // POST /order — placing orders
	Cancel  *TokenBucket // DELETE /orders, /cancel-all
	Book    *TokenBucket // GET /book — order book reads
	Catalog *TokenBucket // gamma events + batch prices
	Data    *TokenBucket // data API positions
}

// NewRateLimiter creates rate limiters tuned to the venue's published
// limits. Capacities are the 10-second burst allowance, rates 1/10th for
// smooth refill.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:   NewTokenBucket(350, 50),
		Cancel:  NewTokenBucket(300, 30),
		Book:    NewTokenBucket(150, 15),
		Catalog: NewTokenBucket(30, 5),
		Data:    NewTokenBucket(30, 5),
	}
}

package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RateLimiter paces repeated requests against the same host.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// SimpleRateLimiter enforces a delay since the previous action, with
// optional jitter between the min and max bounds.
type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

// Wait blocks until enough time has passed since the last action. The
// first call never waits.
func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	delay := r.calculateDelay()

	if elapsed < delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - elapsed):
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if !r.jitter || r.minDelay >= r.maxDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	return r.minDelay + time.Duration(rand.Int63n(int64(delta)))
}

// Package ratelimit throttles calls to external registries with a token bucket.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

var ErrInvalidConfig = errors.New("token bucket needs a positive capacity and refill rate")

// Grant is the outcome of a Take. Fewer tokens than requested is a partial grant, not an error.
type Grant struct {
	Requested int
	Granted   int
	// Remaining is how many whole tokens were left after the take.
	Remaining int
	// RetryAfter is how long until the next token is available when the grant was partial.
	RetryAfter time.Duration
}

func (g Grant) Partial() bool {
	return g.Granted < g.Requested
}

// Bucket hands out tokens atomically and never overdraws.
type Bucket interface {
	Take(ctx context.Context, n int) (Grant, error)
}

type Config struct {
	Capacity        int
	RefillPerSecond float64
}

func (c Config) Validate() error {
	if c.Capacity <= 0 || c.RefillPerSecond <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// RetryAfter is how long a bucket holding tokens needs to reach one whole token.
func (c Config) RetryAfter(tokens float64) time.Duration {
	missing := 1 - tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(missing / c.RefillPerSecond * float64(time.Second)))
}

// MemoryBucket is a process-local Bucket.
type MemoryBucket struct {
	mu     sync.Mutex
	config Config
	tokens float64
	last   time.Time
	now    func() time.Time
}

type MemoryOption func(*MemoryBucket)

func WithClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBucket) { b.now = now }
}

// NewMemoryBucket starts full.
func NewMemoryBucket(config Config, opts ...MemoryOption) (*MemoryBucket, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	b := &MemoryBucket{config: config, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	b.tokens = float64(config.Capacity)
	b.last = b.now()
	return b, nil
}

func (b *MemoryBucket) Take(ctx context.Context, n int) (Grant, error) {
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens = math.Min(float64(b.config.Capacity), b.tokens+elapsed.Seconds()*b.config.RefillPerSecond)
	}
	b.last = now

	granted := n
	if whole := int(math.Floor(b.tokens)); whole < granted {
		granted = whole
	}
	if granted < 0 {
		granted = 0
	}
	b.tokens -= float64(granted)

	g := Grant{Requested: n, Granted: granted, Remaining: int(math.Floor(b.tokens))}
	if g.Partial() {
		g.RetryAfter = b.config.RetryAfter(b.tokens)
	}
	return g, nil
}

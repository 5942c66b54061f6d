package upstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"ragchat/internal/domain"
)

// Limiter bounds concurrent upstream calls and optionally their rate.
// One Limiter is shared by the ingestion and query paths.
type Limiter struct {
	slots          *semaphore.Weighted
	bucket         *rate.Limiter // nil = no rate cap
	acquireTimeout time.Duration
	capacity       int64
	inFlight       atomic.Int64
}

// LimiterConfig configures NewLimiter.
type LimiterConfig struct {
	MaxConcurrent     int
	RequestsPerSecond float64 // 0 disables the rate cap
	Burst             int
	AcquireTimeout    time.Duration // 0 waits as long as ctx allows
}

// NewLimiter creates a limiter with cfg.MaxConcurrent slots.
func NewLimiter(cfg LimiterConfig) *Limiter {
	capacity := int64(cfg.MaxConcurrent)
	if capacity <= 0 {
		capacity = 1
	}
	l := &Limiter{
		slots:          semaphore.NewWeighted(capacity),
		acquireTimeout: cfg.AcquireTimeout,
		capacity:       capacity,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.bucket = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return l
}

// Acquire blocks until a slot is free and the rate bucket allows a call.
// It fails with domain.ErrOverloaded when the acquire timeout passes first,
// or with ctx.Err() when ctx ends. The returned release is idempotent.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	waitCtx := ctx
	if l.acquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.acquireTimeout)
		defer cancel()
	}

	if err := l.slots.Acquire(waitCtx, 1); err != nil {
		return nil, l.acquireErr(ctx, err)
	}
	if l.bucket != nil {
		if err := l.bucket.Wait(waitCtx); err != nil {
			l.slots.Release(1)
			return nil, l.acquireErr(ctx, err)
		}
	}

	l.inFlight.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			l.inFlight.Add(-1)
			l.slots.Release(1)
		})
	}, nil
}

func (l *Limiter) acquireErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	return fmt.Errorf("%w: no upstream slot within %s: %v", domain.ErrOverloaded, l.acquireTimeout, err)
}

// InFlight returns the number of held slots.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// Capacity returns the configured slot count.
func (l *Limiter) Capacity() int { return int(l.capacity) }

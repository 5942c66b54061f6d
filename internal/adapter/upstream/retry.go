package upstream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Policy is an exponential backoff retry policy with jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64       // fraction of each delay, 0..1
	CallTimeout time.Duration // per attempt, 0 = none

	// Sleep waits for d or until ctx ends. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    20 * time.Second,
		Jitter:      0.2,
		CallTimeout: 60 * time.Second,
	}
}

// Executor runs attempts through a shared limiter under a policy.
type Executor struct {
	policy  Policy
	limiter *Limiter
	log     logrus.FieldLogger
}

// NewExecutor creates an executor. limiter may be nil to run unthrottled.
func NewExecutor(policy Policy, limiter *Limiter, log logrus.FieldLogger) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Sleep == nil {
		policy.Sleep = sleepCtx
	}
	return &Executor{policy: policy, limiter: limiter, log: log}
}

// Limiter returns the shared limiter, possibly nil.
func (e *Executor) Limiter() *Limiter { return e.limiter }

// Do calls fn until it succeeds, fails permanently, or attempts run out.
//
// Each attempt holds one limiter slot for its duration only; the slot is
// released before the backoff sleep. A limiter timeout is returned as is
// and consumes no attempts. The error wraps ErrPermanent or ErrExhausted
// together with the last attempt's error, or is ctx.Err().
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := e.retry(ctx, op, func(ctx context.Context) (func(), error) {
		return nil, e.attempt(ctx, fn)
	})
	return err
}

// DoHeld is Do for calls whose result outlives fn, such as a response
// stream. On success the slot and the attempt context stay alive until the
// returned release is called. The per-call timeout bounds fn only.
func (e *Executor) DoHeld(ctx context.Context, op string, fn func(ctx context.Context) error) (release func(), err error) {
	return e.retry(ctx, op, func(ctx context.Context) (func(), error) {
		return e.heldAttempt(ctx, fn)
	})
}

func (e *Executor) retry(ctx context.Context, op string, attempt func(ctx context.Context) (func(), error)) (func(), error) {
	var lastErr error
	for n := 1; n <= e.policy.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		release, err := attempt(ctx)
		if err == nil {
			return release, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var acq acquireError
		if errors.As(err, &acq) {
			return nil, acq.err
		}
		if !Transient(err) {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrPermanent, err)
		}

		lastErr = err
		if n == e.policy.MaxAttempts {
			break
		}

		delay := e.backoff(n, retryAfter(err))
		if e.log != nil {
			e.log.WithFields(logrus.Fields{
				"op":      op,
				"attempt": n,
				"delay":   delay.String(),
				"error":   err.Error(),
			}).Warn("upstream call failed, retrying")
		}
		if err := e.policy.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, e.policy.MaxAttempts, lastErr)
}

// acquireError tags limiter failures inside attempt so Do can tell them apart.
type acquireError struct{ err error }

func (a acquireError) Error() string { return a.err.Error() }
func (a acquireError) Unwrap() error { return a.err }

func (e *Executor) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.limiter != nil {
		release, err := e.limiter.Acquire(ctx)
		if err != nil {
			return acquireError{err}
		}
		defer release()
	}

	callCtx := ctx
	if e.policy.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.policy.CallTimeout)
		defer cancel()
	}
	return fn(callCtx)
}

func (e *Executor) heldAttempt(ctx context.Context, fn func(ctx context.Context) error) (func(), error) {
	release := func() {}
	if e.limiter != nil {
		r, err := e.limiter.Acquire(ctx)
		if err != nil {
			return nil, acquireError{err}
		}
		release = r
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	var timer *time.Timer
	if e.policy.CallTimeout > 0 {
		timer = time.AfterFunc(e.policy.CallTimeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}

	err := fn(attemptCtx)
	if timer != nil {
		timer.Stop()
	}
	if timedOut.Load() {
		if err == nil {
			err = context.DeadlineExceeded
		} else {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
	}
	if err != nil {
		cancel()
		release()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			release()
		})
	}, nil
}

// Policy returns the configured policy.
func (e *Executor) Policy() Policy { return e.policy }

func (e *Executor) backoff(attempt int, hint time.Duration) time.Duration {
	var delay time.Duration
	if e.policy.BaseDelay > 0 {
		delay = e.policy.BaseDelay << (attempt - 1)
		if delay <= 0 || (e.policy.MaxDelay > 0 && delay > e.policy.MaxDelay) {
			delay = e.policy.MaxDelay // shift overflow or cap
		}
	}
	if j := e.policy.Jitter; j > 0 && delay > 0 {
		spread := float64(delay) * j
		delay += time.Duration(spread * (2*rand.Float64() - 1))
	}
	if hint > delay {
		delay = hint
	}
	if e.policy.MaxDelay > 0 && delay > e.policy.MaxDelay {
		delay = e.policy.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

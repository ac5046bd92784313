// Package retrier provides bounded retries with a linear backoff schedule.
package retrier

import (
	"context"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultDelay       = 1 * time.Second
)

// Retrier executes an operation up to a fixed number of attempts. After the
// k-th failed attempt it waits delay*k before the next one; the last error
// propagates once every attempt is spent. Waits are cancellable through the
// context, the in-flight call itself is not.
type Retrier struct {
	maxAttempts int
	delay       time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures the Retrier.
type Option func(*Retrier)

// WithMaxAttempts sets the total number of attempts (not retries).
func WithMaxAttempts(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithDelay sets the base backoff delay.
func WithDelay(d time.Duration) Option {
	return func(r *Retrier) {
		if d >= 0 {
			r.delay = d
		}
	}
}

// New creates a Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		maxAttempts: defaultMaxAttempts,
		delay:       defaultDelay,
		sleep:       sleepCtx,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Do executes fn until it succeeds or attempts are exhausted.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if attempt == r.maxAttempts {
			break
		}

		// linear schedule: delay * attempt number
		if sleepErr := r.sleep(ctx, r.delay*time.Duration(attempt)); sleepErr != nil {
			return sleepErr
		}
	}

	return err
}

// DoWithData executes fn with retries and returns its value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

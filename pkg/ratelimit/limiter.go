// Package ratelimit bounds outgoing exchange calls to a rolling time window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultWindow = time.Minute

// Limiter is a process-wide call counter capped at max calls per rolling
// window. Once the window's first call ages past the window length the counter
// resets. A caller hitting the cap blocks until the window rolls over; no call
// is ever dropped, only delayed. A single Limiter is shared by every gateway
// call from every strategy.
type Limiter struct {
	mu sync.Mutex

	max    int
	window time.Duration

	count       int
	windowStart time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithWindow overrides the rolling window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper injects the blocking wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// New creates a Limiter admitting max calls per 60-second window.
func New(max int, opts ...Option) *Limiter {
	l := &Limiter{
		max:    max,
		window: defaultWindow,
		now:    time.Now,
		sleep:  sleepCtx,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Wait blocks until the call is admitted or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()

		if l.count == 0 || now.Sub(l.windowStart) >= l.window {
			l.windowStart = now
			l.count = 0
		}

		if l.count < l.max {
			l.count++
			l.mu.Unlock()
			return nil
		}

		wait := l.window - now.Sub(l.windowStart)
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
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

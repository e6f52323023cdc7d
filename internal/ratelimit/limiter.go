// Package ratelimit implements sliding-window admission control with
// human-like jitter between consecutive requests.
package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// epsilon is added to computed waits so the oldest timestamp has really left
// the window when the loop re-evaluates.
const epsilon = 10 * time.Millisecond

// Limiter admits at most max requests in any trailing window.
//
// Waiters are served first-come-first-served: the turn channel has one slot
// and Go releases blocked senders in arrival order. The timestamp queue is
// only touched by the goroutine holding the turn.
type Limiter struct {
	max       int
	window    time.Duration
	jitterMin time.Duration
	jitterMax time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rnd   *rand.Rand

	turn  chan struct{}
	times []time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithJitter sets the bounds of the random pause injected between
// non-first requests of a window. Zero bounds disable jitter.
func WithJitter(min, max time.Duration) Option {
	return func(l *Limiter) {
		l.jitterMin, l.jitterMax = min, max
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep replaces the context-aware sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// WithRand sets the jitter source.
func WithRand(r *rand.Rand) Option {
	return func(l *Limiter) { l.rnd = r }
}

// New builds a limiter admitting max requests per window with 1–3s jitter.
func New(max int, window time.Duration, opts ...Option) *Limiter {
	if max < 1 {
		max = 1
	}
	l := &Limiter{
		max:       max,
		window:    window,
		jitterMin: time.Second,
		jitterMax: 3 * time.Second,
		now:       time.Now,
		sleep:     Sleep,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		turn:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// PerMinute builds a limiter from a requests-per-minute setting.
func PerMinute(n int, opts ...Option) *Limiter {
	return New(n, time.Minute, opts...)
}

// Acquire blocks until the caller may issue a request. It only fails when
// ctx is done before admission.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.turn }()

	for {
		now := l.now()
		l.evict(now)

		if len(l.times) >= l.max {
			wait := l.window - now.Sub(l.times[0]) + epsilon
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if len(l.times) > 0 {
			if err := l.sleep(ctx, l.jitter()); err != nil {
				return err
			}
		}
		l.times = append(l.times, l.now())
		return nil
	}
}

// InWindow returns the number of admissions inside the current window.
func (l *Limiter) InWindow() int {
	l.turn <- struct{}{}
	defer func() { <-l.turn }()
	l.evict(l.now())
	return len(l.times)
}

func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.times) && !l.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.times = append(l.times[:0], l.times[i:]...)
	}
}

func (l *Limiter) jitter() time.Duration {
	if l.jitterMax <= 0 {
		return 0
	}
	span := l.jitterMax - l.jitterMin
	if span <= 0 {
		return l.jitterMin
	}
	return l.jitterMin + time.Duration(l.rnd.Int63n(int64(span)+1))
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	MaxRetries int // total invocations in the all-fail case
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Retryable decides which errors earn another attempt. Nil means none.
	Retryable func(error) bool

	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand supplies jitter. Defaults to a shared locked source.
	Rand *rand.Rand
}

type attemptKey struct{}

// Attempt returns the 1-based attempt number stored on ctx by Do, or 0 when
// ctx is not inside a retried operation.
func Attempt(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

// Transient is implemented by errors that are worth retrying.
type Transient interface {
	Temporary() bool
}

// Kinds returns a predicate matching errors that wrap one of targets, or
// that carry a Transient error reporting Temporary() == true.
func Kinds(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		var tr Transient
		return errors.As(err, &tr) && tr.Temporary()
	}
}

var (
	jitterMu  sync.Mutex
	jitterRnd = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Delay computes the pause after the attempt with 0-based index attempt:
// min(base * 2^attempt, max) plus up to 10% random jitter.
func Delay(p Policy, attempt int, r *rand.Rand) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if (p.MaxDelay > 0 && d >= p.MaxDelay) || d > time.Hour {
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	spread := int64(d) / 10
	if spread <= 0 {
		return d
	}
	var j int64
	if r != nil {
		j = r.Int63n(spread + 1)
	} else {
		jitterMu.Lock()
		j = jitterRnd.Int63n(spread + 1)
		jitterMu.Unlock()
	}
	return d + time.Duration(j)
}

// Do invokes op until it succeeds, fails with a non-retryable error, or the
// policy runs out of attempts. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	maxRetries := p.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(context.WithValue(ctx, attemptKey{}, attempt+1))
		if err == nil {
			return v, nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}
		if attempt+1 >= maxRetries {
			return zero, err
		}

		d := Delay(p, attempt, p.Rand)
		log.Printf("[retry] attempt %d/%d failed: %v; retrying in %v", attempt+1, maxRetries, err, d.Round(time.Millisecond))
		if serr := sleep(ctx, d); serr != nil {
			return zero, serr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.t = c.t.Add(d)
	}
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestAcquireBlocksWhenWindowIsFull(t *testing.T) {
	const window = 300 * time.Millisecond
	l := New(2, window, WithJitter(0, 0))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire #%d: %v", i+1, err)
		}
	}
	if elapsed := time.Since(start); elapsed < window {
		t.Errorf("third Acquire returned after %v; want at least %v", elapsed, window)
	}
}

func TestFirstCallIsNeverJittered(t *testing.T) {
	clock := newFakeClock()
	l := New(5, time.Minute,
		WithJitter(time.Second, 3*time.Second),
		WithClock(clock.Now),
		WithSleep(clock.Sleep),
	)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("first Acquire slept %v; want no sleep", clock.sleeps)
	}

	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.sleeps) != 1 {
		t.Fatalf("second Acquire slept %d times; want 1 jitter pause", len(clock.sleeps))
	}
	if d := clock.sleeps[0]; d < time.Second || d > 3*time.Second {
		t.Errorf("jitter = %v; want within [1s, 3s]", d)
	}
}

func TestWaitIsComputedFromOldestAdmission(t *testing.T) {
	clock := newFakeClock()
	l := New(2, 10*time.Second,
		WithJitter(0, 0),
		WithClock(clock.Now),
		WithSleep(clock.Sleep),
	)
	ctx := context.Background()

	_ = l.Acquire(ctx)
	clock.Advance(4 * time.Second)
	_ = l.Acquire(ctx)
	clock.sleeps = nil

	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	// oldest admission is 4s old: wait 6s plus epsilon, then admit.
	want := 6*time.Second + epsilon
	var waited time.Duration
	for _, d := range clock.sleeps {
		waited += d
	}
	if waited != want {
		t.Errorf("waited %v (sleeps %v); want %v", waited, clock.sleeps, want)
	}
	if n := l.InWindow(); n != 2 {
		t.Errorf("InWindow = %d; want 2 after the oldest slid out", n)
	}
}

func TestWindowSlidesAndResetsJitter(t *testing.T) {
	clock := newFakeClock()
	l := New(3, time.Minute,
		WithJitter(time.Second, time.Second),
		WithClock(clock.Now),
		WithSleep(clock.Sleep),
	)
	ctx := context.Background()

	_ = l.Acquire(ctx)
	_ = l.Acquire(ctx)
	clock.Advance(2 * time.Minute)
	clock.sleeps = nil

	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("Acquire in an emptied window slept %v; want none", clock.sleeps)
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	l := New(1, time.Hour, WithJitter(0, 0))
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire on a full window = %v; want deadline exceeded", err)
	}
}

func TestConcurrentCallers(t *testing.T) {
	const callers = 20
	l := New(callers, time.Minute, WithJitter(0, 0))

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := l.InWindow(); n != callers {
		t.Errorf("InWindow = %d; want %d", n, callers)
	}
}

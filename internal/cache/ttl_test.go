package cache

import (
	"testing"
	"time"
)

func TestGetReturnsFreshEntry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string, int](time.Minute).WithClock(func() time.Time { return now })

	c.Put("123456789", 42)
	now = now.Add(59 * time.Second)

	v, ok := c.Get("123456789")
	if !ok || v != 42 {
		t.Errorf("Get = (%d, %v); want (42, true)", v, ok)
	}
}

func TestGetEvictsStaleEntryOnRead(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string, int](time.Minute).WithClock(func() time.Time { return now })

	c.Put("a", 1)
	c.Put("b", 2)
	now = now.Add(time.Minute)

	// Nothing sweeps: both entries are still stored until read.
	if c.Len() != 2 {
		t.Fatalf("Len = %d; want 2 before any read", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("Get(a) hit at age == ttl; want miss")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d; want 1 after the stale read", c.Len())
	}
}

func TestPutRestampsEntry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string, string](10 * time.Second).WithClock(func() time.Time { return now })

	c.Put("k", "old")
	now = now.Add(8 * time.Second)
	c.Put("k", "new")
	now = now.Add(8 * time.Second)

	v, ok := c.Get("k")
	if !ok || v != "new" {
		t.Errorf("Get = (%q, %v); want (new, true)", v, ok)
	}
}

func TestClear(t *testing.T) {
	c := New[int, int](time.Hour)
	for i := 0; i < 5; i++ {
		c.Put(i, i)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len = %d after Clear; want 0", c.Len())
	}
	if _, ok := c.Get(1); ok {
		t.Error("Get after Clear hit; want miss")
	}
}

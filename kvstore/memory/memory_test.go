package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/messenger/kvstore"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New(WithClock(newFakeClock().Now))
	defer s.Close()

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	v, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "v" {
		t.Errorf("expected 'v', got %q", v)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Absent key deletion is not an error.
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("delete absent key: %v", err)
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	defer s.Close()

	if err := s.Set(ctx, "short", "x", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "forever", "y", 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, err := s.Get(ctx, "short"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}

	clock.Advance(time.Minute)

	if _, err := s.Get(ctx, "short"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
	if _, err := s.Get(ctx, "forever"); err != nil {
		t.Errorf("zero ttl must never expire, got %v", err)
	}
}

func TestLenAndSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	defer s.Close()

	s.Set(ctx, "a", "1", time.Minute)
	s.Set(ctx, "b", "2", time.Hour)
	s.Set(ctx, "c", "3", 0)

	if n := s.Len(); n != 3 {
		t.Errorf("expected 3 live entries, got %d", n)
	}

	clock.Advance(30 * time.Minute)

	// Len excludes expired-but-unswept entries.
	if n := s.Len(); n != 2 {
		t.Errorf("expected 2 live entries, got %d", n)
	}

	if dropped := s.Sweep(); dropped != 1 {
		t.Errorf("expected 1 swept, got %d", dropped)
	}
	if dropped := s.Sweep(); dropped != 0 {
		t.Errorf("expected 0 on repeat sweep, got %d", dropped)
	}
}

func TestSetOverwritesTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	defer s.Close()

	s.Set(ctx, "k", "v1", time.Minute)
	// Re-set with no expiry.
	s.Set(ctx, "k", "v2", 0)

	clock.Advance(time.Hour)

	v, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "v2" {
		t.Errorf("expected 'v2', got %q", v)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.Set(ctx, "k", "v", 0)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := s.Set(ctx, "k", "v", 0); !errors.Is(err, kvstore.ErrClosed) {
		t.Errorf("expected ErrClosed on set, got %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, kvstore.ErrClosed) {
		t.Errorf("expected ErrClosed on get, got %v", err)
	}

	// Double close is safe.
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := New(WithSweepInterval(time.Millisecond))
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				s.Set(ctx, key, "v", time.Microsecond)
				s.Get(ctx, key)
				s.Delete(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}

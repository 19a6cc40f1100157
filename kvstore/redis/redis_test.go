package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rbaliyan/messenger/kvstore"
)

func setup(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, opts...), mr
}

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := setup(t)

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

	if err := s.Delete(ctx, "absent"); err != nil {
		t.Errorf("delete absent key: %v", err)
	}
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := setup(t)

	if err := s.Set(ctx, "short", "x", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "forever", "y", 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := s.Get(ctx, "short"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
	if _, err := s.Get(ctx, "forever"); err != nil {
		t.Errorf("zero ttl must never expire, got %v", err)
	}
}

func TestNegativeTTLTreatedAsNoExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := setup(t)

	if err := s.Set(ctx, "k", "v", -time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(time.Hour)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Errorf("expected value to persist, got %v", err)
	}
}

func TestKeyPrefix(t *testing.T) {
	ctx := context.Background()
	s, mr := setup(t, WithKeyPrefix("messenger:"))

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	// The raw key carries the prefix.
	if got, err := mr.Get("messenger:k"); err != nil || got != "v" {
		t.Errorf("expected prefixed key in redis, got %q err %v", got, err)
	}

	v, err := s.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Errorf("expected round-trip through prefix, got %q err %v", v, err)
	}
}

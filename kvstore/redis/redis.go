// Package redis provides a Redis-backed kvstore.Store. It is the
// durable revocation backend: entries survive process restarts and are
// shared across instances, with expiry delegated to Redis TTLs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rbaliyan/messenger/kvstore"
)

// Store implements kvstore.Store on a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures the Redis store.
type Option func(*Store)

// WithKeyPrefix sets a prefix prepended to every key.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis-backed store. The caller owns the client's
// lifecycle; Close does not close it.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Set stores value under key with the given ttl.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", kvstore.ErrNotFound
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *Store) Close() error {
	return nil
}

// Compile-time check that Store implements kvstore.Store.
var _ kvstore.Store = (*Store)(nil)

// Package kvstore defines a minimal key-value interface with per-key
// expiry. It backs the token revocation ledger; implementations are in
// kvstore/redis (durable) and kvstore/memory (process-local fallback).
package kvstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("kvstore: not found")

	// ErrClosed is returned when operations are attempted after Close.
	ErrClosed = errors.New("kvstore: closed")
)

// IsNotFound reports whether err indicates a missing or expired key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is a key-value store with per-key time-to-live.
//
// All operations must be safe for concurrent use. A zero or negative
// ttl on Set means the key does not expire.
type Store interface {
	// Set stores value under key with the given ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value stored under key.
	// Returns ErrNotFound if the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

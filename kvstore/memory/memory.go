// Package memory provides an in-process kvstore.Store with timed
// expiry. It is the fallback used by the revocation ledger when no
// durable backend is configured or the durable backend is failing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rbaliyan/messenger/kvstore"
)

// DefaultSweepInterval is how often the janitor removes expired entries.
const DefaultSweepInterval = time.Minute

// options holds memory store configuration.
type options struct {
	sweepInterval time.Duration
	now           func() time.Time
	janitor       bool
}

func newOptions(opts ...Option) *options {
	o := &options{
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		janitor:       true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the memory store.
type Option func(*options)

// WithSweepInterval sets how often the janitor runs.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithClock sets the time source. Used by tests to simulate expiry
// without real timers; it also disables the janitor so sweeps are
// driven explicitly via Sweep.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
			o.janitor = false
		}
	}
}

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store implements kvstore.Store with an in-process map.
//
// Expired entries are dropped lazily on Get and periodically by a
// janitor goroutine, so memory is bounded by the live key set rather
// than everything ever written.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	now  func() time.Time
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a new in-process store and starts its janitor.
func New(opts ...Option) *Store {
	o := newOptions(opts...)
	s := &Store{
		entries: make(map[string]*entry),
		now:     o.now,
		done:    make(chan struct{}),
	}
	if o.janitor {
		s.wg.Add(1)
		go s.janitor(o.sweepInterval)
	}
	return s
}

// Set stores value under key with the given ttl.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kvstore.ErrClosed
	}
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Get returns the value stored under key. Expired entries are removed
// on the way out.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return "", kvstore.ErrClosed
	}
	e, ok := s.entries[key]
	if ok && !e.expired(s.now()) {
		v := e.value
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	if ok {
		// Expired: drop it so the map does not accumulate dead keys.
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur.expired(s.now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
	}
	return "", kvstore.ErrNotFound
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kvstore.ErrClosed
	}
	delete(s.entries, key)
	return nil
}

// Len returns the number of live entries. Expired entries that have not
// been swept yet are excluded.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Sweep removes all expired entries and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	dropped := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			dropped++
		}
	}
	return dropped
}

// Close stops the janitor and drops all entries.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return nil
}

func (s *Store) janitor(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.done:
			return
		}
	}
}

// Compile-time check that Store implements kvstore.Store.
var _ kvstore.Store = (*Store)(nil)

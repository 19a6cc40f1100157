// Package revocation implements a token revocation ledger with a
// durable backend and an in-process fallback.
//
// Revocations are written to the durable backend (typically Redis) when
// one is configured. If the durable write fails, or no backend is
// configured, the entry lands in an in-process timed map instead: a
// restart then loses it, but a logout still takes effect on the
// instance that handled it. Lookups consult both layers; a durable
// read error degrades to the local layer rather than failing open.
//
// Every entry carries a TTL aligned with the token's remaining
// lifetime, so the ledger never grows beyond the set of tokens that
// could still be replayed.
package revocation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/messenger/kvstore"
	kvmemory "github.com/rbaliyan/messenger/kvstore/memory"
	"github.com/rbaliyan/messenger/retry"
)

// Class identifies which kind of token an entry refers to.
type Class string

// Token classes.
const (
	ClassAccess  Class = "access"
	ClassRefresh Class = "refresh"
)

// DefaultUserTTL bounds how long an all-tokens-revoked marker lives.
// It must be at least the longest token lifetime ever issued.
const DefaultUserTTL = 30 * 24 * time.Hour

// DefaultReason is stored when no revocation reason is given.
const DefaultReason = "revoked"

// options holds ledger configuration.
type options struct {
	durable kvstore.Store
	logger  *slog.Logger
	userTTL time.Duration
	now     func() time.Time
	local   []kvmemory.Option
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger:  slog.Default(),
		userTTL: DefaultUserTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the ledger.
type Option func(*options)

// WithDurable sets the durable backend. Without one, all entries live
// in the in-process fallback only.
func WithDurable(s kvstore.Store) Option {
	return func(o *options) {
		o.durable = s
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithUserTTL sets the lifetime of all-tokens-revoked markers.
func WithUserTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.userTTL = d
		}
	}
}

// WithClock sets the time source and switches the in-process fallback
// to explicit sweeping. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
			o.local = append(o.local, kvmemory.WithClock(now))
		}
	}
}

// Ledger records revoked tokens.
type Ledger struct {
	durable kvstore.Store
	local   *kvmemory.Store
	logger  *slog.Logger
	userTTL time.Duration
	now     func() time.Time

	durableErrors atomic.Int64
}

// New creates a revocation ledger.
func New(opts ...Option) *Ledger {
	o := newOptions(opts...)
	return &Ledger{
		durable: o.durable,
		local:   kvmemory.New(o.local...),
		logger:  o.logger,
		userTTL: o.userTTL,
		now:     o.now,
	}
}

func tokenKey(class Class, jti string) string {
	return "revoked:" + string(class) + ":" + jti
}

func userKey(userID string) string {
	return "revoked:user:" + userID
}

// Revoke records a single token as revoked for ttl, which should be the
// token's remaining lifetime. A non-positive ttl means the token has
// already expired and nothing is recorded.
func (l *Ledger) Revoke(ctx context.Context, class Class, jti, reason string, ttl time.Duration) error {
	if jti == "" {
		return fmt.Errorf("revocation: empty jti")
	}
	if ttl <= 0 {
		return nil
	}
	if reason == "" {
		reason = DefaultReason
	}
	return l.set(ctx, tokenKey(class, jti), reason, ttl)
}

// IsRevoked reports whether the token identified by jti has been
// revoked. Durable read errors degrade to the in-process layer.
func (l *Ledger) IsRevoked(ctx context.Context, class Class, jti string) bool {
	return l.exists(ctx, tokenKey(class, jti))
}

// RevokeAllForUser marks every token issued to userID before now as
// revoked, by storing a timestamped marker. Tokens issued after the
// marker are unaffected.
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID, reason string) error {
	if userID == "" {
		return fmt.Errorf("revocation: empty user id")
	}
	if reason == "" {
		reason = DefaultReason
	}
	l.logger.Info("revoking all tokens for user", "user_id", userID, "reason", reason)
	value := l.now().UTC().Format(time.RFC3339Nano)
	return l.set(ctx, userKey(userID), value, l.userTTL)
}

// UserRevokedAt returns the time of userID's last all-tokens
// revocation, if one is in effect.
func (l *Ledger) UserRevokedAt(ctx context.Context, userID string) (time.Time, bool) {
	v, ok := l.get(ctx, userKey(userID))
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		// Unparseable marker still means a revocation happened; treat
		// it as in effect from now so no token slips through.
		l.logger.Warn("malformed user revocation marker", "user_id", userID, "value", v)
		return l.now().UTC(), true
	}
	return t, true
}

// durableRetry bounds how hard a durable write is pushed before the
// entry degrades to the in-process layer.
var durableRetry = retry.Config{
	MaxRetries:     2,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	Multiplier:     2.0,
	Jitter:         0.1,
}

// set writes durable-first with a short retry, falling back to the
// in-process layer.
func (l *Ledger) set(ctx context.Context, key, value string, ttl time.Duration) error {
	if l.durable != nil {
		err := retry.Do(ctx, durableRetry, func(ctx context.Context) error {
			return l.durable.Set(ctx, key, value, ttl)
		})
		if err == nil {
			return nil
		}
		l.durableErrors.Add(1)
		l.logger.Error("durable revocation write failed, falling back to memory",
			"error", err, "key", key)
	}
	if err := l.local.Set(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("revocation fallback write: %w", err)
	}
	return nil
}

func (l *Ledger) get(ctx context.Context, key string) (string, bool) {
	if l.durable != nil {
		v, err := l.durable.Get(ctx, key)
		switch {
		case err == nil:
			return v, true
		case kvstore.IsNotFound(err):
			// Fall through to the local layer: the entry may have been
			// written there during a durable outage.
		default:
			l.durableErrors.Add(1)
			l.logger.Error("durable revocation read failed, checking memory",
				"error", err, "key", key)
		}
	}
	v, err := l.local.Get(ctx, key)
	if err != nil {
		return "", false
	}
	return v, true
}

func (l *Ledger) exists(ctx context.Context, key string) bool {
	_, ok := l.get(ctx, key)
	return ok
}

// Stats reports ledger state for observability.
type Stats struct {
	// InMemoryEntries is the number of live entries in the in-process
	// fallback layer.
	InMemoryEntries int

	// DurableConfigured reports whether a durable backend is attached.
	DurableConfigured bool

	// DurableErrors counts durable backend failures since start.
	DurableErrors int64
}

// Stats returns a snapshot of ledger state.
func (l *Ledger) Stats() Stats {
	return Stats{
		InMemoryEntries:   l.local.Len(),
		DurableConfigured: l.durable != nil,
		DurableErrors:     l.durableErrors.Load(),
	}
}

// Close releases both layers.
func (l *Ledger) Close() error {
	err := l.local.Close()
	if l.durable != nil {
		if derr := l.durable.Close(); err == nil {
			err = derr
		}
	}
	return err
}

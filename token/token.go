// Package token issues and verifies the access/refresh token pairs
// whose lifecycle the revocation ledger tracks.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rbaliyan/messenger/revocation"
)

// Sentinel errors.
var (
	// ErrInvalidToken is returned when a token fails signature or
	// claims validation.
	ErrInvalidToken = errors.New("token: invalid token")

	// ErrWrongClass is returned when an access token is presented where
	// a refresh token is expected, or vice versa.
	ErrWrongClass = errors.New("token: wrong token class")

	// ErrRevoked is returned when a token has been revoked.
	ErrRevoked = errors.New("token: revoked")
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims are the JWT claims carried by issued tokens.
type Claims struct {
	jwt.RegisteredClaims

	// Class is "access" or "refresh".
	Class string `json:"cls"`
}

// Pair is an issued access/refresh token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string

	// AccessJTI and RefreshJTI identify the tokens in the revocation
	// ledger.
	AccessJTI  string
	RefreshJTI string

	ExpiresAt time.Time
}

// options holds issuer configuration.
type options struct {
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func newOptions(opts ...Option) *options {
	o := &options{
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures an Issuer.
type Option func(*options)

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.accessTTL = d
		}
	}
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.refreshTTL = d
		}
	}
}

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Issuer issues and verifies HMAC-signed token pairs, consulting the
// revocation ledger on every verification.
type Issuer struct {
	secret     []byte
	ledger     *revocation.Ledger
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer creates a token issuer. The ledger may be nil, in which
// case verification skips revocation checks.
func NewIssuer(secret []byte, ledger *revocation.Ledger, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token: empty secret")
	}
	o := newOptions(opts...)
	return &Issuer{
		secret:     secret,
		ledger:     ledger,
		accessTTL:  o.accessTTL,
		refreshTTL: o.refreshTTL,
		now:        o.now,
	}, nil
}

// Issue creates a new access/refresh pair for userID.
func (i *Issuer) Issue(userID string) (*Pair, error) {
	if userID == "" {
		return nil, fmt.Errorf("token: empty user id")
	}
	now := i.now().UTC()

	accessJTI := uuid.New().String()
	access, err := i.sign(userID, accessJTI, string(revocation.ClassAccess), now, i.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshJTI := uuid.New().String()
	refresh, err := i.sign(userID, refreshJTI, string(revocation.ClassRefresh), now, i.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessJTI:    accessJTI,
		RefreshJTI:   refreshJTI,
		ExpiresAt:    now.Add(i.accessTTL),
	}, nil
}

func (i *Issuer) sign(userID, jti, class string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Class: class,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify validates a token of the given class and returns its claims.
// A token is rejected if its signature or expiry fails, its class does
// not match, its jti is in the revocation ledger, or it was issued
// before an all-tokens revocation for its subject.
func (i *Issuer) Verify(ctx context.Context, tokenString string, class revocation.Class) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Class != string(class) {
		return nil, ErrWrongClass
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	if i.ledger != nil {
		if i.ledger.IsRevoked(ctx, class, claims.ID) {
			return nil, ErrRevoked
		}
		if at, ok := i.ledger.UserRevokedAt(ctx, claims.Subject); ok {
			if claims.IssuedAt == nil || !claims.IssuedAt.Time.After(at) {
				return nil, ErrRevoked
			}
		}
	}

	return &claims, nil
}

// Refresh verifies a refresh token and issues a fresh pair, revoking
// the used refresh token so it cannot be replayed.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	claims, err := i.Verify(ctx, refreshToken, revocation.ClassRefresh)
	if err != nil {
		return nil, err
	}
	if i.ledger != nil {
		if err := i.ledger.Revoke(ctx, revocation.ClassRefresh, claims.ID, "rotated", i.remaining(claims)); err != nil {
			return nil, fmt.Errorf("revoke used refresh token: %w", err)
		}
	}
	return i.Issue(claims.Subject)
}

// Logout revokes both tokens of a pair with TTLs matching their
// remaining lifetimes. Expired tokens are skipped.
func (i *Issuer) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if i.ledger == nil {
		return nil
	}
	var errs []error
	if accessToken != "" {
		if err := i.revokeParsed(ctx, accessToken, revocation.ClassAccess); err != nil {
			errs = append(errs, err)
		}
	}
	if refreshToken != "" {
		if err := i.revokeParsed(ctx, refreshToken, revocation.ClassRefresh); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogoutAll revokes every outstanding token for userID.
func (i *Issuer) LogoutAll(ctx context.Context, userID, reason string) error {
	if i.ledger == nil {
		return nil
	}
	return i.ledger.RevokeAllForUser(ctx, userID, reason)
}

// revokeParsed extracts the jti and remaining lifetime from a token and
// records the revocation. Tokens that fail verification because they
// are already revoked or expired need no entry.
func (i *Issuer) revokeParsed(ctx context.Context, tokenString string, class revocation.Class) error {
	claims, err := i.Verify(ctx, tokenString, class)
	if err != nil {
		if errors.Is(err, ErrRevoked) || errors.Is(err, ErrInvalidToken) {
			return nil
		}
		return err
	}
	return i.ledger.Revoke(ctx, class, claims.ID, "logout", i.remaining(claims))
}

// remaining returns the time left before the token expires.
func (i *Issuer) remaining(claims *Claims) time.Duration {
	if claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Time.Sub(i.now().UTC())
}

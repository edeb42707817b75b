// Package auth supplies bearer tokens for the agent connection. Token
// issuance and refresh live behind injected callbacks; this package only
// caches the result and decides when a refresh is worth attempting.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken            = errors.New("no auth token available")
	ErrRefreshUnavailable = errors.New("no token refresh callback configured")
	ErrRefreshFailed      = errors.New("token refresh failed")
)

// GetTokenFunc returns the current bearer token, or "" when the user is not
// authenticated.
type GetTokenFunc func() string

// RefreshFunc obtains a fresh token from the session endpoint. Returning an
// empty token without an error is treated as a refusal.
type RefreshFunc func(ctx context.Context) (string, error)

// TokenSource hands out the bearer token used to authenticate the stream.
// A token obtained through Refresh shadows the injected getter until the
// next refresh.
type TokenSource struct {
	mu      sync.Mutex
	get     GetTokenFunc
	refresh RefreshFunc
	current string

	// skew is how close to expiry a JWT may get before NeedsRefresh
	// reports true.
	skew time.Duration
}

// NewTokenSource builds a source from the injected callbacks. Either may be
// nil: a nil getter means only refreshed tokens are ever used, a nil
// refresher disables refresh.
func NewTokenSource(get GetTokenFunc, refresh RefreshFunc, skew time.Duration) *TokenSource {
	if skew <= 0 {
		skew = 30 * time.Second
	}
	return &TokenSource{get: get, refresh: refresh, skew: skew}
}

// Token returns the current bearer token, preferring the most recently
// refreshed one. Empty when unauthenticated.
func (ts *TokenSource) Token() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.current != "" {
		return ts.current
	}
	if ts.get != nil {
		return ts.get()
	}
	return ""
}

// Refresh performs one refresh round trip and caches the result.
func (ts *TokenSource) Refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	refresh := ts.refresh
	ts.mu.Unlock()

	if refresh == nil {
		return "", ErrRefreshUnavailable
	}

	token, err := refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if token == "" {
		return "", ErrRefreshFailed
	}

	ts.mu.Lock()
	ts.current = token
	ts.mu.Unlock()
	return token, nil
}

// Invalidate discards the cached refreshed token, falling back to the
// injected getter.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.current = ""
	ts.mu.Unlock()
}

// NeedsRefresh reports whether the current token is a JWT that has expired
// or will expire within the configured skew. Opaque (non-JWT) tokens always
// report false; only the server can judge those.
func (ts *TokenSource) NeedsRefresh() bool {
	token := ts.Token()
	if token == "" {
		return false
	}

	exp, ok := tokenExpiry(token)
	if !ok {
		return false
	}
	return time.Until(exp) < ts.skew
}

// tokenExpiry extracts the exp claim without verifying the signature. The
// client only wants the timestamp, validation is the server's job.
func tokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

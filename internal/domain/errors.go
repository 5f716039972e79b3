package domain

import (
    "errors"
    "fmt"
    "time"
)

// ErrNotConnected is returned when no token row exists for a (user, provider) pair.
var ErrNotConnected = errors.New("provider not connected")

// ErrInvalidState is returned when an OAuth callback carries an unknown,
// expired, or already-consumed state token.
var ErrInvalidState = errors.New("invalid oauth state")

// ConfigError marks fatal startup misconfiguration (missing or malformed
// encryption key, bad OAuth app credentials).
type ConfigError struct {
    Field  string
    Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %s: %s", e.Field, e.Reason) }

// ExchangeError means the authorization-code exchange failed: the provider
// returned non-2xx or a body we could not parse. Users retry the login flow.
type ExchangeError struct {
    Provider Provider
    Status   int
    Body     string
    Err      error
}

func (e *ExchangeError) Error() string {
    if e.Err != nil { return fmt.Sprintf("%s: code exchange failed: %v", e.Provider, e.Err) }
    return fmt.Sprintf("%s: code exchange failed: status=%d body=%s", e.Provider, e.Status, e.Body)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// AuthError means the token itself is invalid or revoked (401/403 from the
// provider, or a rejected refresh token). Recovery is re-authorization,
// not refresh.
type AuthError struct {
    Provider Provider
    Status   int
    Reason   string
}

func (e *AuthError) Error() string {
    if e.Reason != "" { return fmt.Sprintf("%s: auth failed: %s", e.Provider, e.Reason) }
    return fmt.Sprintf("%s: auth failed: status=%d", e.Provider, e.Status)
}

// RateLimitError means the provider returned 429. It is transient; the
// caller may retry later. No automatic backoff is performed.
type RateLimitError struct {
    Provider   Provider
    RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
    return fmt.Sprintf("%s: rate limited (retry after %s)", e.Provider, e.RetryAfter)
}

// NoAccessibleSiteError is Jira-specific: the authorized account has no
// accessible Jira Cloud site, so no cloud_id can be resolved.
type NoAccessibleSiteError struct{}

func (e *NoAccessibleSiteError) Error() string { return "jira: no accessible sites for this account" }

func IsAuthError(err error) bool {
    var ae *AuthError
    return errors.As(err, &ae)
}

func IsRateLimitError(err error) bool {
    var re *RateLimitError
    return errors.As(err, &re)
}

func IsExchangeError(err error) bool {
    var ee *ExchangeError
    return errors.As(err, &ee)
}

/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package adapters defines the contract every provider client satisfies
// and the shared error classification for provider HTTP responses.
package adapters

import (
    "context"
    "fmt"
    "net/http"
    "strconv"
    "time"

    "golang.org/x/oauth2"

    "github.com/workpulse/workpulse/internal/domain"
)

// Adapter is one provider's OAuth and data client. Implementations are
// stateless beyond configuration; per-user credentials arrive as
// arguments on every call.
type Adapter interface {
    Provider() domain.Provider
    // AuthorizationURL builds the provider consent URL carrying state.
    AuthorizationURL(state string) string
    // ExchangeCode trades an authorization code for tokens. Providers
    // that need extra connection context (Jira cloud id, Asana
    // workspace) resolve it here and return it in Grant.Metadata.
    ExchangeCode(ctx context.Context, code string) (*domain.TokenGrant, error)
    // Refresh trades a refresh token for a new grant. Adapters that
    // report SupportsRefresh() == false return an error.
    Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error)
    SupportsRefresh() bool
    // FetchResources pulls one kind of records for the window
    // [start, end) and returns them as raw provider-shaped maps.
    FetchResources(ctx context.Context, access domain.Access, kind domain.ResourceKind, start, end time.Time) ([]map[string]any, error)
}

// Registry maps provider names to their configured adapters. Providers
// without credentials are absent.
type Registry map[domain.Provider]Adapter

func (r Registry) Get(p domain.Provider) (Adapter, bool) {
    a, ok := r[p]
    return a, ok
}

// ClassifyStatus converts a provider API status code into the shared
// error taxonomy. nil for 2xx.
func ClassifyStatus(p domain.Provider, resp *http.Response) error {
    switch {
    case resp.StatusCode >= 200 && resp.StatusCode < 300:
        return nil
    case resp.StatusCode == http.StatusTooManyRequests:
        return &domain.RateLimitError{Provider: p, RetryAfter: retryAfter(resp)}
    case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
        return &domain.AuthError{Provider: p, Status: resp.StatusCode}
    default:
        return fmt.Errorf("%s: unexpected status %d", p, resp.StatusCode)
    }
}

func retryAfter(resp *http.Response) time.Duration {
    if v := resp.Header.Get("Retry-After"); v != "" {
        if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
            return time.Duration(secs) * time.Second
        }
    }
    return 0
}

// ExchangeFailure wraps an oauth2 library error from a code exchange.
func ExchangeFailure(p domain.Provider, err error) error {
    if re, ok := err.(*oauth2.RetrieveError); ok {
        return &domain.ExchangeError{Provider: p, Status: re.Response.StatusCode, Body: string(re.Body)}
    }
    return &domain.ExchangeError{Provider: p, Err: err}
}

// RefreshFailure wraps an oauth2 library error from a token refresh.
// Provider rejections (4xx) mean the refresh token is dead.
func RefreshFailure(p domain.Provider, err error) error {
    if re, ok := err.(*oauth2.RetrieveError); ok {
        if re.Response.StatusCode == http.StatusTooManyRequests {
            return &domain.RateLimitError{Provider: p, RetryAfter: retryAfter(re.Response)}
        }
        if re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
            return &domain.AuthError{Provider: p, Status: re.Response.StatusCode, Reason: "refresh token rejected"}
        }
        return fmt.Errorf("%s: refresh failed: status %d", p, re.Response.StatusCode)
    }
    return fmt.Errorf("%s: refresh failed: %w", p, err)
}

// GrantFromToken converts an oauth2 token into the storage-facing grant.
func GrantFromToken(tok *oauth2.Token, scopes []string) *domain.TokenGrant {
    g := &domain.TokenGrant{
        AccessToken:  tok.AccessToken,
        RefreshToken: tok.RefreshToken,
        TokenType:    tok.TokenType,
        Scopes:       scopes,
    }
    if !tok.Expiry.IsZero() {
        g.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
    }
    return g
}

/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package tokens owns the credential lifecycle: store on connect,
// decrypt on use, refresh once when stale, revoke when the provider
// rejects the refresh token.
package tokens

import (
    "context"
    "time"

    "github.com/rs/zerolog"
    "golang.org/x/sync/singleflight"

    "github.com/workpulse/workpulse/internal/adapters"
    "github.com/workpulse/workpulse/internal/domain"
    "github.com/workpulse/workpulse/internal/secrets"
)

// Store is the persistence the manager needs, satisfied by repo.Repository.
type Store interface {
    GetToken(ctx context.Context, userID string, provider domain.Provider) (*domain.OAuthToken, error)
    ListTokens(ctx context.Context, userID string) ([]*domain.OAuthToken, error)
    UpsertToken(ctx context.Context, t *domain.OAuthToken) error
    UpdateGrant(ctx context.Context, userID string, provider domain.Provider,
        access, refresh []byte, tokenType string, expiresAt *time.Time) error
    MarkRevoked(ctx context.Context, userID string, provider domain.Provider) error
    DeleteToken(ctx context.Context, userID string, provider domain.Provider) error
}

type Manager struct {
    store    Store
    box      *secrets.Box
    registry adapters.Registry
    sf       singleflight.Group
    now      func() time.Time
    log      zerolog.Logger
}

func NewManager(store Store, box *secrets.Box, registry adapters.Registry, log zerolog.Logger) *Manager {
    return &Manager{
        store:    store,
        box:      box,
        registry: registry,
        now:      time.Now,
        log:      log.With().Str("component", "tokens").Logger(),
    }
}

// Store encrypts and persists a fresh grant, merging metadata from the
// exchange (cloud id, workspace, provider user id).
func (m *Manager) Store(ctx context.Context, userID string, provider domain.Provider, grant *domain.TokenGrant) error {
    access, err := m.box.Encrypt(grant.AccessToken)
    if err != nil { return err }
    refresh, err := m.box.Encrypt(grant.RefreshToken)
    if err != nil { return err }

    tok := &domain.OAuthToken{
        UserID:       userID,
        Provider:     provider,
        AccessToken:  access,
        RefreshToken: refresh,
        TokenType:    grant.TokenType,
        ExpiresAt:    m.expiry(grant.ExpiresIn),
        Scopes:       grant.Scopes,
        Metadata:     grant.Metadata,
    }
    return m.store.UpsertToken(ctx, tok)
}

// Access returns a usable plaintext token for one call. An expired
// token triggers at most one refresh attempt; a provider rejection of
// the refresh marks the connection revoked.
func (m *Manager) Access(ctx context.Context, userID string, provider domain.Provider) (domain.Access, error) {
    tok, err := m.store.GetToken(ctx, userID, provider)
    if err != nil { return domain.Access{}, err }

    now := m.now()
    if tok.Revoked {
        return domain.Access{}, &domain.AuthError{Provider: provider, Reason: "connection revoked, reauthorization required"}
    }
    if !tok.Expired(now) {
        plain, err := m.box.Decrypt(tok.AccessToken)
        if err != nil { return domain.Access{}, err }
        return domain.Access{Token: plain, Metadata: tok.Metadata}, nil
    }
    return m.refreshOnce(ctx, userID, provider)
}

// refreshOnce collapses concurrent refreshes of the same connection
// into a single provider round trip.
func (m *Manager) refreshOnce(ctx context.Context, userID string, provider domain.Provider) (domain.Access, error) {
    key := userID + "|" + string(provider)
    v, err, _ := m.sf.Do(key, func() (any, error) {
        return m.doRefresh(ctx, userID, provider)
    })
    if err != nil { return domain.Access{}, err }
    return v.(domain.Access), nil
}

func (m *Manager) doRefresh(ctx context.Context, userID string, provider domain.Provider) (domain.Access, error) {
    // re-read: a concurrent flight may have refreshed already
    tok, err := m.store.GetToken(ctx, userID, provider)
    if err != nil { return domain.Access{}, err }
    if tok.Revoked {
        return domain.Access{}, &domain.AuthError{Provider: provider, Reason: "connection revoked, reauthorization required"}
    }
    if !tok.Expired(m.now()) {
        plain, err := m.box.Decrypt(tok.AccessToken)
        if err != nil { return domain.Access{}, err }
        return domain.Access{Token: plain, Metadata: tok.Metadata}, nil
    }

    adapter, ok := m.registry.Get(provider)
    if !ok { return domain.Access{}, &domain.ConfigError{Field: string(provider), Reason: "provider not configured"} }
    if !adapter.SupportsRefresh() || len(tok.RefreshToken) == 0 {
        return domain.Access{}, &domain.AuthError{Provider: provider, Reason: "token expired and not refreshable"}
    }

    refreshPlain, err := m.box.Decrypt(tok.RefreshToken)
    if err != nil { return domain.Access{}, err }

    grant, err := adapter.Refresh(ctx, refreshPlain)
    if err != nil {
        if domain.IsAuthError(err) {
            if mErr := m.store.MarkRevoked(ctx, userID, provider); mErr != nil {
                m.log.Error().Err(mErr).Str("user", userID).Str("provider", string(provider)).Msg("mark revoked failed")
            }
            m.log.Warn().Str("user", userID).Str("provider", string(provider)).Msg("refresh token rejected, connection revoked")
        }
        return domain.Access{}, err
    }

    access, err := m.box.Encrypt(grant.AccessToken)
    if err != nil { return domain.Access{}, err }
    refreshCT := tok.RefreshToken
    if grant.RefreshToken != "" {
        if refreshCT, err = m.box.Encrypt(grant.RefreshToken); err != nil { return domain.Access{}, err }
    }
    if err := m.store.UpdateGrant(ctx, userID, provider, access, refreshCT, grant.TokenType, m.expiry(grant.ExpiresIn)); err != nil {
        return domain.Access{}, err
    }
    m.log.Info().Str("user", userID).Str("provider", string(provider)).Msg("token refreshed")
    return domain.Access{Token: grant.AccessToken, Metadata: tok.Metadata}, nil
}

// ForceRefresh refreshes regardless of expiry and reports the state
// afterward. Providers without refresh support are a no-op.
func (m *Manager) ForceRefresh(ctx context.Context, userID string, provider domain.Provider) (domain.TokenState, error) {
    tok, err := m.store.GetToken(ctx, userID, provider)
    if err != nil { return "", err }
    if tok.Revoked { return domain.StateRevoked, nil }

    adapter, ok := m.registry.Get(provider)
    if !ok { return "", &domain.ConfigError{Field: string(provider), Reason: "provider not configured"} }
    if !adapter.SupportsRefresh() || len(tok.RefreshToken) == 0 {
        return tok.State(m.now()), nil
    }

    refreshPlain, err := m.box.Decrypt(tok.RefreshToken)
    if err != nil { return "", err }
    grant, err := adapter.Refresh(ctx, refreshPlain)
    if err != nil {
        if domain.IsAuthError(err) {
            if mErr := m.store.MarkRevoked(ctx, userID, provider); mErr != nil {
                m.log.Error().Err(mErr).Msg("mark revoked failed")
            }
            return domain.StateRevoked, err
        }
        return tok.State(m.now()), err
    }

    access, err := m.box.Encrypt(grant.AccessToken)
    if err != nil { return "", err }
    refreshCT := tok.RefreshToken
    if grant.RefreshToken != "" {
        if refreshCT, err = m.box.Encrypt(grant.RefreshToken); err != nil { return "", err }
    }
    if err := m.store.UpdateGrant(ctx, userID, provider, access, refreshCT, grant.TokenType, m.expiry(grant.ExpiresIn)); err != nil {
        return "", err
    }
    return domain.StateConnected, nil
}

func (m *Manager) Disconnect(ctx context.Context, userID string, provider domain.Provider) error {
    return m.store.DeleteToken(ctx, userID, provider)
}

// ConnectionStatus is one row of the per-user status report.
type ConnectionStatus struct {
    Provider  domain.Provider   `json:"provider"`
    State     domain.TokenState `json:"state"`
    ExpiresAt *time.Time        `json:"expires_at,omitempty"`
    Scopes    []string          `json:"scopes,omitempty"`
}

// Status reports every connection the user has; providers with no row
// are simply absent.
func (m *Manager) Status(ctx context.Context, userID string) ([]ConnectionStatus, error) {
    toks, err := m.store.ListTokens(ctx, userID)
    if err != nil { return nil, err }
    now := m.now()
    out := make([]ConnectionStatus, 0, len(toks))
    for _, t := range toks {
        out = append(out, ConnectionStatus{
            Provider:  t.Provider,
            State:     t.State(now),
            ExpiresAt: t.ExpiresAt,
            Scopes:    t.Scopes,
        })
    }
    return out, nil
}

func (m *Manager) expiry(expiresIn int64) *time.Time {
    if expiresIn <= 0 { return nil }
    t := m.now().Add(time.Duration(expiresIn) * time.Second)
    return &t
}

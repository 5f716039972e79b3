/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package services wires the OAuth flow, token lifecycle and data
// fetching into the operations the HTTP layer exposes.
package services

import (
    "context"
    "time"

    "github.com/rs/zerolog"

    "github.com/workpulse/workpulse/internal/adapters"
    "github.com/workpulse/workpulse/internal/config"
    "github.com/workpulse/workpulse/internal/domain"
    "github.com/workpulse/workpulse/internal/features"
    "github.com/workpulse/workpulse/internal/normalize"
    "github.com/workpulse/workpulse/internal/statestore"
    "github.com/workpulse/workpulse/internal/tokens"
)

// FetchAudit is the audit-log persistence, satisfied by repo.Repository.
type FetchAudit interface {
    StartFetch(ctx context.Context, f *domain.DataFetch) (int64, error)
    FinishFetch(ctx context.Context, id int64, status string, records int, errMsg string) error
    ListFetches(ctx context.Context, userID string, limit int) ([]domain.DataFetch, error)
}

type Service struct {
    cfg       config.Config
    registry  adapters.Registry
    tokens    *tokens.Manager
    states    statestore.Store
    audit     FetchAudit
    extractor *features.Extractor
    log       zerolog.Logger
}

func New(cfg config.Config, registry adapters.Registry, tm *tokens.Manager,
    states statestore.Store, audit FetchAudit, log zerolog.Logger) *Service {
    return &Service{
        cfg:       cfg,
        registry:  registry,
        tokens:    tm,
        states:    states,
        audit:     audit,
        extractor: features.NewExtractor(cfg.WorkdayStart, cfg.WorkdayEnd),
        log:       log.With().Str("component", "service").Logger(),
    }
}

// BeginAuth issues a state token and returns the provider consent URL.
func (s *Service) BeginAuth(ctx context.Context, userID string, provider domain.Provider) (string, error) {
    adapter, ok := s.registry.Get(provider)
    if !ok {
        return "", &domain.ConfigError{Field: string(provider), Reason: "provider not configured"}
    }
    state, err := s.states.Issue(ctx, userID, provider)
    if err != nil { return "", err }
    return adapter.AuthorizationURL(state), nil
}

// CompleteAuth consumes the callback state, exchanges the code and
// stores the encrypted grant. Returns who connected what.
func (s *Service) CompleteAuth(ctx context.Context, state, code string) (string, domain.Provider, error) {
    userID, provider, err := s.states.Consume(ctx, state)
    if err != nil { return "", "", err }

    adapter, ok := s.registry.Get(provider)
    if !ok {
        return "", "", &domain.ConfigError{Field: string(provider), Reason: "provider not configured"}
    }
    grant, err := adapter.ExchangeCode(ctx, code)
    if err != nil { return "", "", err }
    if err := s.tokens.Store(ctx, userID, provider, grant); err != nil { return "", "", err }

    s.log.Info().Str("user", userID).Str("provider", string(provider)).Msg("provider connected")
    return userID, provider, nil
}

func (s *Service) Refresh(ctx context.Context, userID string, provider domain.Provider) (domain.TokenState, error) {
    return s.tokens.ForceRefresh(ctx, userID, provider)
}

func (s *Service) Status(ctx context.Context, userID string) ([]tokens.ConnectionStatus, error) {
    return s.tokens.Status(ctx, userID)
}

func (s *Service) Disconnect(ctx context.Context, userID string, provider domain.Provider) error {
    if err := s.tokens.Disconnect(ctx, userID, provider); err != nil { return err }
    s.log.Info().Str("user", userID).Str("provider", string(provider)).Msg("provider disconnected")
    return nil
}

func (s *Service) FetchHistory(ctx context.Context, userID string, limit int) ([]domain.DataFetch, error) {
    return s.audit.ListFetches(ctx, userID, limit)
}

// KindResult is one data type's outcome within a fetch. Failures stay
// local to their kind.
type KindResult struct {
    Kind    domain.ResourceKind  `json:"data_type"`
    Records []domain.FetchRecord `json:"records,omitempty"`
    Count   int                  `json:"count"`
    Error   string               `json:"error,omitempty"`
}

type FetchResult struct {
    UserID   string             `json:"user_id"`
    Provider domain.Provider    `json:"provider"`
    Start    time.Time          `json:"fetch_start"`
    End      time.Time          `json:"fetch_end"`
    Results  []KindResult       `json:"results"`
    Stats    any                `json:"stats,omitempty"`
    Features *features.Features `json:"features,omitempty"`
}

func defaultKinds(p domain.Provider) []domain.ResourceKind {
    switch p {
    case domain.ProviderMicrosoft:
        return []domain.ResourceKind{domain.KindCalendar, domain.KindEmail, domain.KindTeams}
    case domain.ProviderSlack:
        return []domain.ResourceKind{domain.KindMessages, domain.KindReactions}
    case domain.ProviderJira:
        return []domain.ResourceKind{domain.KindIssues, domain.KindWorklogs}
    case domain.ProviderAsana:
        return []domain.ResourceKind{domain.KindTasks, domain.KindProjects}
    }
    return nil
}

// Fetch pulls the requested data types for one provider over the
// window. Each type is fetched and audited independently; an
// authorization failure on the connection itself aborts the whole call.
func (s *Service) Fetch(ctx context.Context, userID string, provider domain.Provider,
    kinds []domain.ResourceKind, start, end time.Time) (*FetchResult, error) {
    adapter, ok := s.registry.Get(provider)
    if !ok {
        return nil, &domain.ConfigError{Field: string(provider), Reason: "provider not configured"}
    }

    wantStats, wantFeatures := false, false
    var raw []domain.ResourceKind
    for _, k := range kinds {
        switch k {
        case domain.KindStats:
            wantStats = true
        case domain.KindFeatures:
            wantFeatures = true
        default:
            raw = append(raw, k)
        }
    }
    if len(raw) == 0 { raw = defaultKinds(provider) }

    access, err := s.tokens.Access(ctx, userID, provider)
    if err != nil { return nil, err }

    result := &FetchResult{UserID: userID, Provider: provider, Start: start, End: end}
    byKind := map[domain.ResourceKind][]domain.FetchRecord{}

    for _, kind := range raw {
        kr := s.fetchKind(ctx, adapter, access, userID, provider, kind, start, end)
        if kr.Error == "" { byKind[kind] = kr.Records }
        result.Results = append(result.Results, kr)
    }

    if wantStats { result.Stats = s.computeStats(provider, byKind, access, start, end) }
    if wantFeatures {
        f := s.extractor.ExtractAll(features.Input{
            Events:   byKind[domain.KindCalendar],
            Messages: append(byKind[domain.KindMessages], byKind[domain.KindTeams]...),
            Emails:   byKind[domain.KindEmail],
            Tasks:    append(byKind[domain.KindTasks], byKind[domain.KindIssues]...),
            Worklogs: byKind[domain.KindWorklogs],
            Days:     windowDays(start, end),
            AsOf:     end,
        })
        result.Features = &f
    }
    return result, nil
}

// fetchKind runs one data type end to end: audit open, provider call,
// normalization, audit close.
func (s *Service) fetchKind(ctx context.Context, adapter adapters.Adapter, access domain.Access,
    userID string, provider domain.Provider, kind domain.ResourceKind, start, end time.Time) KindResult {
    kr := KindResult{Kind: kind}

    auditID, err := s.audit.StartFetch(ctx, &domain.DataFetch{
        UserID:     userID,
        Provider:   provider,
        DataType:   string(kind),
        FetchStart: start,
        FetchEnd:   end,
    })
    if err != nil {
        s.log.Error().Err(err).Msg("audit open failed")
    }

    rawRecords, err := adapter.FetchResources(ctx, access, kind, start, end)
    if err == nil {
        var recs []domain.FetchRecord
        recs, err = normalize.Records(provider, kind, rawRecords)
        if err == nil {
            kr.Records = recs
            kr.Count = len(recs)
        }
    }
    if err != nil {
        kr.Error = err.Error()
        s.log.Warn().Err(err).Str("provider", string(provider)).Str("kind", string(kind)).Msg("fetch failed")
    }

    if auditID != 0 {
        status := domain.FetchSuccess
        if kr.Error != "" { status = domain.FetchFailed }
        if aErr := s.audit.FinishFetch(ctx, auditID, status, kr.Count, kr.Error); aErr != nil {
            s.log.Error().Err(aErr).Msg("audit close failed")
        }
    }
    return kr
}

// computeStats derives provider stats from the fetched records. The
// per-day denominators come from the actual fetch window, not the
// configured default.
func (s *Service) computeStats(provider domain.Provider, byKind map[domain.ResourceKind][]domain.FetchRecord,
    access domain.Access, start, end time.Time) any {
    days := windowDays(start, end)
    switch provider {
    case domain.ProviderJira:
        accountID, _ := access.Metadata["account_id"].(string)
        return normalize.ComputeJiraStats(byKind[domain.KindIssues], byKind[domain.KindWorklogs], accountID, days)
    case domain.ProviderSlack:
        return normalize.ComputeSlackStats(byKind[domain.KindMessages], days,
            s.cfg.WorkdayStart, s.cfg.WorkdayEnd)
    case domain.ProviderAsana:
        return normalize.ComputeAsanaStats(byKind[domain.KindTasks], end, days)
    case domain.ProviderMicrosoft:
        return s.extractor.Calendar(byKind[domain.KindCalendar])
    }
    return nil
}

func windowDays(start, end time.Time) int {
    days := int(end.Sub(start).Hours() / 24)
    if days < 1 { days = 1 }
    return days
}

// Window derives the fetch window ending now, sized by configuration
// unless the caller overrides the number of days.
func (s *Service) Window(days int) (time.Time, time.Time) {
    if days <= 0 { days = s.cfg.AnalysisDaysBack }
    end := time.Now().UTC()
    return end.AddDate(0, 0, -days), end
}

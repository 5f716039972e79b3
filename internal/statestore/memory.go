package statestore

import (
    "context"
    "sync"
    "time"

    "github.com/workpulse/workpulse/internal/domain"
)

type entry struct {
    userID   string
    provider domain.Provider
    expires  time.Time
}

// Memory is a process-local Store. Suitable for a single instance;
// multi-instance deployments use Redis.
type Memory struct {
    mu  sync.Mutex
    ttl time.Duration
    m   map[string]entry
    now func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
    return &Memory{ttl: ttl, m: make(map[string]entry), now: time.Now}
}

func (s *Memory) Issue(_ context.Context, userID string, provider domain.Provider) (string, error) {
    tok, err := newToken()
    if err != nil { return "", err }
    s.mu.Lock()
    defer s.mu.Unlock()
    now := s.now()
    // lazy sweep: drop expired entries while we hold the lock
    for k, e := range s.m {
        if now.After(e.expires) { delete(s.m, k) }
    }
    s.m[tok] = entry{userID: userID, provider: provider, expires: now.Add(s.ttl)}
    return tok, nil
}

func (s *Memory) Consume(_ context.Context, state string) (string, domain.Provider, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    e, ok := s.m[state]
    if !ok { return "", "", domain.ErrInvalidState }
    delete(s.m, state)
    if s.now().After(e.expires) { return "", "", domain.ErrInvalidState }
    return e.userID, e.provider, nil
}

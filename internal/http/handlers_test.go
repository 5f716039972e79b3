package http

import (
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "net/url"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"

    "github.com/workpulse/workpulse/internal/adapters"
    "github.com/workpulse/workpulse/internal/config"
    "github.com/workpulse/workpulse/internal/domain"
    "github.com/workpulse/workpulse/internal/secrets"
    "github.com/workpulse/workpulse/internal/services"
    "github.com/workpulse/workpulse/internal/statestore"
    "github.com/workpulse/workpulse/internal/tokens"
)

type memStore struct {
    mu sync.Mutex
    m  map[string]*domain.OAuthToken
}

func (s *memStore) key(u string, p domain.Provider) string { return u + "/" + string(p) }

func (s *memStore) GetToken(_ context.Context, u string, p domain.Provider) (*domain.OAuthToken, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    t, ok := s.m[s.key(u, p)]
    if !ok { return nil, domain.ErrNotConnected }
    cp := *t
    return &cp, nil
}

func (s *memStore) ListTokens(_ context.Context, u string) ([]*domain.OAuthToken, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    var out []*domain.OAuthToken
    for _, t := range s.m {
        if t.UserID == u { cp := *t; out = append(out, &cp) }
    }
    return out, nil
}

func (s *memStore) UpsertToken(_ context.Context, t *domain.OAuthToken) error {
    s.mu.Lock(); defer s.mu.Unlock()
    cp := *t
    s.m[s.key(t.UserID, t.Provider)] = &cp
    return nil
}

func (s *memStore) UpdateGrant(_ context.Context, u string, p domain.Provider,
    access, refresh []byte, tokenType string, expiresAt *time.Time) error {
    s.mu.Lock(); defer s.mu.Unlock()
    t, ok := s.m[s.key(u, p)]
    if !ok { return domain.ErrNotConnected }
    t.AccessToken, t.RefreshToken, t.TokenType, t.ExpiresAt = access, refresh, tokenType, expiresAt
    return nil
}

func (s *memStore) MarkRevoked(_ context.Context, u string, p domain.Provider) error {
    s.mu.Lock(); defer s.mu.Unlock()
    t, ok := s.m[s.key(u, p)]
    if !ok { return domain.ErrNotConnected }
    t.Revoked = true
    return nil
}

func (s *memStore) DeleteToken(_ context.Context, u string, p domain.Provider) error {
    s.mu.Lock(); defer s.mu.Unlock()
    if _, ok := s.m[s.key(u, p)]; !ok { return domain.ErrNotConnected }
    delete(s.m, s.key(u, p))
    return nil
}

type memAudit struct {
    mu   sync.Mutex
    rows []domain.DataFetch
}

func (a *memAudit) StartFetch(_ context.Context, f *domain.DataFetch) (int64, error) {
    a.mu.Lock(); defer a.mu.Unlock()
    cp := *f
    cp.ID = int64(len(a.rows) + 1)
    a.rows = append(a.rows, cp)
    return cp.ID, nil
}

func (a *memAudit) FinishFetch(_ context.Context, id int64, status string, records int, errMsg string) error {
    a.mu.Lock(); defer a.mu.Unlock()
    for i := range a.rows {
        if a.rows[i].ID == id {
            a.rows[i].Status, a.rows[i].RecordsFetched, a.rows[i].ErrorMessage = status, records, errMsg
        }
    }
    return nil
}

func (a *memAudit) ListFetches(_ context.Context, userID string, limit int) ([]domain.DataFetch, error) {
    a.mu.Lock(); defer a.mu.Unlock()
    var out []domain.DataFetch
    for _, r := range a.rows {
        if r.UserID == userID { out = append(out, r) }
    }
    return out, nil
}

type stubAdapter struct {
    provider domain.Provider
    fetchErr error
}

func (a *stubAdapter) Provider() domain.Provider { return a.provider }
func (a *stubAdapter) SupportsRefresh() bool     { return true }

func (a *stubAdapter) AuthorizationURL(state string) string {
    return "https://provider.test/authorize?state=" + state
}

func (a *stubAdapter) ExchangeCode(context.Context, string) (*domain.TokenGrant, error) {
    return &domain.TokenGrant{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", ExpiresIn: 3600}, nil
}

func (a *stubAdapter) Refresh(context.Context, string) (*domain.TokenGrant, error) {
    return &domain.TokenGrant{AccessToken: "at2", RefreshToken: "rt2", ExpiresIn: 3600}, nil
}

func (a *stubAdapter) FetchResources(_ context.Context, _ domain.Access, kind domain.ResourceKind, _, _ time.Time) ([]map[string]any, error) {
    if a.fetchErr != nil { return nil, a.fetchErr }
    if kind == domain.KindIssues {
        return []map[string]any{
            {"key": "WP-1", "fields": map[string]any{"summary": "a", "project": map[string]any{"key": "WP"}}},
        }, nil
    }
    return nil, nil
}

func newTestRouter(t *testing.T, adapter adapters.Adapter) *gin.Engine {
    t.Helper()
    gin.SetMode(gin.TestMode)
    box, err := secrets.NewBox(make([]byte, 32))
    if err != nil { t.Fatal(err) }
    cfg := config.Config{
        AppEnv:           "test",
        FrontendURL:      "http://frontend.test",
        AnalysisDaysBack: 14,
        WorkdayStart:     8,
        WorkdayEnd:       18,
    }
    reg := adapters.Registry{adapter.Provider(): adapter}
    tm := tokens.NewManager(&memStore{m: map[string]*domain.OAuthToken{}}, box, reg, zerolog.Nop())
    svc := services.New(cfg, reg, tm, statestore.NewMemory(10*time.Minute), &memAudit{}, zerolog.Nop())
    return NewRouter(cfg, zerolog.Nop(), svc)
}

func doReq(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
    var rd *strings.Reader
    if body == "" { rd = strings.NewReader("") } else { rd = strings.NewReader(body) }
    req := httptest.NewRequest(method, target, rd)
    if body != "" { req.Header.Set("Content-Type", "application/json") }
    w := httptest.NewRecorder()
    r.ServeHTTP(w, req)
    return w
}

// connectUser walks the login redirect and callback like a browser would.
func connectUser(t *testing.T, r *gin.Engine, userID, provider string) {
    t.Helper()
    w := doReq(r, http.MethodGet, "/auth/"+provider+"/login?user_id="+userID, "")
    if w.Code != http.StatusFound { t.Fatalf("login status = %d", w.Code) }
    loc, err := url.Parse(w.Header().Get("Location"))
    if err != nil { t.Fatal(err) }
    state := loc.Query().Get("state")
    if state == "" { t.Fatalf("no state in redirect %s", loc) }

    w = doReq(r, http.MethodGet, "/auth/"+provider+"/callback?state="+state+"&code=xyz", "")
    if w.Code != http.StatusFound { t.Fatalf("callback status = %d, body %s", w.Code, w.Body) }
    back, _ := url.Parse(w.Header().Get("Location"))
    if back.Query().Get("connected") != "true" { t.Fatalf("callback redirect %s", back) }
}

func TestLoginValidation(t *testing.T) {
    r := newTestRouter(t, &stubAdapter{provider: domain.ProviderJira})

    if w := doReq(r, http.MethodGet, "/auth/github/login?user_id=u1", ""); w.Code != http.StatusBadRequest {
        t.Fatalf("unknown provider status = %d", w.Code)
    }
    if w := doReq(r, http.MethodGet, "/auth/jira/login", ""); w.Code != http.StatusBadRequest {
        t.Fatalf("missing user_id status = %d", w.Code)
    }
    if w := doReq(r, http.MethodGet, "/auth/asana/login?user_id=u1", ""); w.Code != http.StatusBadRequest {
        t.Fatalf("unconfigured provider status = %d", w.Code)
    }
}

func TestAuthFlow(t *testing.T) {
    r := newTestRouter(t, &stubAdapter{provider: domain.ProviderJira})
    connectUser(t, r, "u1", "jira")

    w := doReq(r, http.MethodGet, "/auth/status/u1", "")
    if w.Code != http.StatusOK { t.Fatalf("status = %d", w.Code) }
    var body struct {
        Connections []struct {
            Provider string `json:"provider"`
            State    string `json:"state"`
        } `json:"connections"`
    }
    if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil { t.Fatal(err) }
    if len(body.Connections) != 1 || body.Connections[0].State != "connected" {
        t.Fatalf("connections = %+v", body.Connections)
    }
}

func TestCallbackForgedState(t *testing.T) {
    r := newTestRouter(t, &stubAdapter{provider: domain.ProviderJira})
    w := doReq(r, http.MethodGet, "/auth/jira/callback?state=forged&code=xyz", "")
    if w.Code != http.StatusBadRequest { t.Fatalf("status = %d", w.Code) }
}

func TestCallbackUserDenied(t *testing.T) {
    r := newTestRouter(t, &stubAdapter{provider: domain.ProviderJira})
    w := doReq(r, http.MethodGet, "/auth/jira/callback?error=access_denied", "")
    if w.Code != http.StatusFound { t.Fatalf("status = %d", w.Code) }
    loc, _ := url.Parse(w.Header().Get("Location"))
    if loc.Query().Get("error") != "access_denied" { t.Fatalf("redirect %s", loc) }
}

func TestRefreshEndpoint(t *testing.T) {
    r := newTestRouter(t, &stubAdapter{provider: domain.ProviderJira})
    connectUser(t, r, "u1", "jira")

    w := doReq(r, http.MethodPost, "/auth/refresh", `{"user_id": "u1", "provider": "jira"}`)
    if w.Code != http.StatusOK { t.Fatalf("status = %d, body %s", w.Code, w.Body) }

    w = doReq(r, http.MethodPost, "/auth/refresh", `{"user_id": "ghost", "provider": "jira"}`)
    if w.Code != http.StatusNotFound { t.Fatalf("unconnected refresh status = %d", w.Code) }
}

func TestDisconnectEndpoint(t *testing.T) {
    r := newTestRouter(t, &stubAdapter{provider: domain.ProviderJira})
    connectUser(t, r, "u1", "jira")

    w := doReq(r, http.MethodDelete, "/auth/disconnect/jira?user_id=u1", "")
    if w.Code != http.StatusOK { t.Fatalf("status = %d", w.Code) }
    w = doReq(r, http.MethodDelete, "/auth/disconnect/jira?user_id=u1", "")
    if w.Code != http.StatusNotFound { t.Fatalf("second disconnect status = %d", w.Code) }
}

func TestFetchEndpoint(t *testing.T) {
    r := newTestRouter(t, &stubAdapter{provider: domain.ProviderJira})
    connectUser(t, r, "u1", "jira")

    w := doReq(r, http.MethodPost, "/data/jira/fetch", `{"user_id": "u1", "data_types": ["issues"]}`)
    if w.Code != http.StatusOK { t.Fatalf("status = %d, body %s", w.Code, w.Body) }
    var res struct {
        Results []struct {
            DataType string `json:"data_type"`
            Count    int    `json:"count"`
        } `json:"results"`
    }
    if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil { t.Fatal(err) }
    if len(res.Results) != 1 || res.Results[0].Count != 1 {
        t.Fatalf("results = %+v", res.Results)
    }
}

func TestFetchHonorsDaysBack(t *testing.T) {
    r := newTestRouter(t, &stubAdapter{provider: domain.ProviderJira})
    connectUser(t, r, "u1", "jira")

    w := doReq(r, http.MethodPost, "/data/jira/fetch", `{"user_id": "u1", "data_types": ["issues"], "days_back": 3}`)
    if w.Code != http.StatusOK { t.Fatalf("status = %d, body %s", w.Code, w.Body) }
    var res struct {
        Start time.Time `json:"fetch_start"`
        End   time.Time `json:"fetch_end"`
    }
    if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil { t.Fatal(err) }
    if got := res.End.Sub(res.Start); got != 72*time.Hour {
        t.Fatalf("window = %s, want 72h", got)
    }
}

func TestFetchNotConnected(t *testing.T) {
    r := newTestRouter(t, &stubAdapter{provider: domain.ProviderJira})
    w := doReq(r, http.MethodPost, "/data/jira/fetch", `{"user_id": "ghost"}`)
    if w.Code != http.StatusNotFound { t.Fatalf("status = %d", w.Code) }
}

func TestFetchRateLimitSurfacesPerKind(t *testing.T) {
    r := newTestRouter(t, &stubAdapter{
        provider: domain.ProviderJira,
        fetchErr: &domain.RateLimitError{Provider: domain.ProviderJira, RetryAfter: 30 * time.Second},
    })
    connectUser(t, r, "u1", "jira")

    // kind-level failures do not fail the request
    w := doReq(r, http.MethodPost, "/data/jira/fetch", `{"user_id": "u1", "data_types": ["issues"]}`)
    if w.Code != http.StatusOK { t.Fatalf("status = %d", w.Code) }
    var res struct {
        Results []struct {
            Error string `json:"error"`
        } `json:"results"`
    }
    if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil { t.Fatal(err) }
    if len(res.Results) != 1 || res.Results[0].Error == "" {
        t.Fatalf("results = %+v", res.Results)
    }
}

func TestFetchHistoryEndpoint(t *testing.T) {
    r := newTestRouter(t, &stubAdapter{provider: domain.ProviderJira})
    connectUser(t, r, "u1", "jira")
    doReq(r, http.MethodPost, "/data/jira/fetch", `{"user_id": "u1", "data_types": ["issues"]}`)

    w := doReq(r, http.MethodGet, "/data/fetch-history/u1", "")
    if w.Code != http.StatusOK { t.Fatalf("status = %d", w.Code) }
    var body struct {
        Fetches []struct {
            DataType string `json:"data_type"`
            Status   string `json:"status"`
        } `json:"fetches"`
    }
    if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil { t.Fatal(err) }
    if len(body.Fetches) != 1 || body.Fetches[0].Status != "success" {
        t.Fatalf("fetches = %+v", body.Fetches)
    }
}

package jira

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "strconv"
    "strings"
    "testing"
    "time"

    "github.com/rs/zerolog"
    "golang.org/x/oauth2"

    "github.com/workpulse/workpulse/internal/domain"
)

func testClient(srv *httptest.Server) *Client {
    return &Client{
        oauth: &oauth2.Config{
            ClientID:     "cid",
            ClientSecret: "secret",
            RedirectURL:  "http://localhost/auth/jira/callback",
            Scopes:       []string{"read:jira-work", "offline_access"},
            Endpoint: oauth2.Endpoint{
                AuthURL:  srv.URL + "/authorize",
                TokenURL: srv.URL + "/oauth/token",
            },
        },
        gateway:   srv.URL + "/ex/jira",
        resources: srv.URL + "/oauth/token/accessible-resources",
        profile:   srv.URL + "/me",
        http:      srv.Client(),
        log:       zerolog.Nop(),
    }
}

func TestAuthorizationURLParams(t *testing.T) {
    srv := httptest.NewServer(http.NotFoundHandler())
    defer srv.Close()

    raw := testClient(srv).AuthorizationURL("st-1")
    for _, want := range []string{"audience=api.atlassian.com", "prompt=consent", "state=st-1"} {
        if !strings.Contains(raw, want) { t.Fatalf("url missing %q: %s", want, raw) }
    }
}

func TestExchangeResolvesCloudID(t *testing.T) {
    mux := http.NewServeMux()
    mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        json.NewEncoder(w).Encode(map[string]any{
            "access_token": "at-1", "refresh_token": "rt-1",
            "token_type": "Bearer", "expires_in": 3600,
        })
    })
    mux.HandleFunc("/oauth/token/accessible-resources", func(w http.ResponseWriter, r *http.Request) {
        if r.Header.Get("Authorization") != "Bearer at-1" {
            t.Fatalf("bad auth header %q", r.Header.Get("Authorization"))
        }
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`[{"id": "cloud-abc", "url": "https://acme.atlassian.net", "name": "acme"}]`))
    })
    mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"account_id": "acc-self"}`))
    })
    srv := httptest.NewServer(mux)
    defer srv.Close()

    grant, err := testClient(srv).ExchangeCode(context.Background(), "code")
    if err != nil { t.Fatalf("ExchangeCode: %v", err) }
    if grant.AccessToken != "at-1" || grant.RefreshToken != "rt-1" {
        t.Fatalf("grant = %+v", grant)
    }
    if grant.ExpiresIn <= 0 || grant.ExpiresIn > 3600 { t.Fatalf("expires_in = %d", grant.ExpiresIn) }
    if grant.Metadata["cloud_id"] != "cloud-abc" { t.Fatalf("metadata = %v", grant.Metadata) }
    if grant.Metadata["account_id"] != "acc-self" { t.Fatalf("metadata = %v", grant.Metadata) }
}

func TestExchangeNoAccessibleSites(t *testing.T) {
    mux := http.NewServeMux()
    mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        json.NewEncoder(w).Encode(map[string]any{"access_token": "at", "token_type": "Bearer"})
    })
    mux.HandleFunc("/oauth/token/accessible-resources", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`[]`))
    })
    srv := httptest.NewServer(mux)
    defer srv.Close()

    _, err := testClient(srv).ExchangeCode(context.Background(), "code")
    var nas *domain.NoAccessibleSiteError
    if !errors.As(err, &nas) { t.Fatalf("want NoAccessibleSiteError, got %v", err) }
}

func TestExchangeProviderRejection(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusForbidden)
        w.Write([]byte(`{"error": "invalid_grant"}`))
    }))
    defer srv.Close()

    _, err := testClient(srv).ExchangeCode(context.Background(), "code")
    if !domain.IsExchangeError(err) { t.Fatalf("want ExchangeError, got %v", err) }
}

func TestRefreshRejectionIsAuthError(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusBadRequest)
        w.Write([]byte(`{"error": "invalid_grant"}`))
    }))
    defer srv.Close()

    _, err := testClient(srv).Refresh(context.Background(), "dead-rt")
    if !domain.IsAuthError(err) { t.Fatalf("want AuthError, got %v", err) }
}

func TestSearchIssuesPagination(t *testing.T) {
    mux := http.NewServeMux()
    mux.HandleFunc("/ex/jira/cloud-abc/rest/api/3/search", func(w http.ResponseWriter, r *http.Request) {
        startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
        w.Header().Set("Content-Type", "application/json")
        if startAt == 0 {
            w.Write([]byte(`{"total": 3, "issues": [{"key": "WP-1"}, {"key": "WP-2"}]}`))
            return
        }
        w.Write([]byte(`{"total": 3, "issues": [{"key": "WP-3"}]}`))
    })
    srv := httptest.NewServer(mux)
    defer srv.Close()

    access := domain.Access{Token: "at", Metadata: map[string]any{"cloud_id": "cloud-abc"}}
    got, err := testClient(srv).FetchResources(context.Background(), access, domain.KindIssues,
        time.Now().Add(-14*24*time.Hour), time.Now())
    if err != nil { t.Fatalf("FetchResources: %v", err) }
    if len(got) != 3 { t.Fatalf("expected 3 issues, got %d", len(got)) }
}

func TestWorklogsFilteredToUserAndWindow(t *testing.T) {
    start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
    end := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

    mux := http.NewServeMux()
    mux.HandleFunc("/ex/jira/cloud-abc/rest/api/3/search", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"total": 1, "issues": [{"key": "WP-1", "fields": {"project": {"key": "WP"}}}]}`))
    })
    mux.HandleFunc("/ex/jira/cloud-abc/rest/api/3/issue/WP-1/worklog", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"worklogs": [
            {"id": "1", "author": {"accountId": "acc-self"}, "started": "2026-08-05T10:00:00.000+0000", "timeSpentSeconds": 3600},
            {"id": "2", "author": {"accountId": "acc-teammate"}, "started": "2026-08-05T11:00:00.000+0000", "timeSpentSeconds": 7200},
            {"id": "3", "author": {"accountId": "acc-self"}, "started": "2026-07-20T10:00:00.000+0000", "timeSpentSeconds": 900}
        ]}`))
    })
    srv := httptest.NewServer(mux)
    defer srv.Close()

    access := domain.Access{Token: "at", Metadata: map[string]any{"cloud_id": "cloud-abc", "account_id": "acc-self"}}
    got, err := testClient(srv).FetchResources(context.Background(), access, domain.KindWorklogs, start, end)
    if err != nil { t.Fatalf("FetchResources: %v", err) }
    if len(got) != 1 { t.Fatalf("expected 1 worklog, got %d: %v", len(got), got) }
    if got[0]["id"] != "1" || got[0]["issue_key"] != "WP-1" || got[0]["project_key"] != "WP" {
        t.Fatalf("worklog = %v", got[0])
    }
}

func TestWorklogsSkipPerIssueFailures(t *testing.T) {
    start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
    end := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

    mux := http.NewServeMux()
    mux.HandleFunc("/ex/jira/cloud-abc/rest/api/3/search", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"total": 2, "issues": [{"key": "WP-1", "fields": {}}, {"key": "WP-2", "fields": {}}]}`))
    })
    mux.HandleFunc("/ex/jira/cloud-abc/rest/api/3/issue/WP-1/worklog", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusInternalServerError)
    })
    mux.HandleFunc("/ex/jira/cloud-abc/rest/api/3/issue/WP-2/worklog", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"worklogs": [
            {"id": "9", "author": {"accountId": "acc-self"}, "started": "2026-08-06T09:00:00.000+0000", "timeSpentSeconds": 1800}
        ]}`))
    })
    srv := httptest.NewServer(mux)
    defer srv.Close()

    access := domain.Access{Token: "at", Metadata: map[string]any{"cloud_id": "cloud-abc", "account_id": "acc-self"}}
    got, err := testClient(srv).FetchResources(context.Background(), access, domain.KindWorklogs, start, end)
    if err != nil { t.Fatalf("FetchResources: %v", err) }
    if len(got) != 1 || got[0]["id"] != "9" { t.Fatalf("worklogs = %v", got) }
}

func TestWorklogsResolveAccountIDLazily(t *testing.T) {
    start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
    end := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

    mux := http.NewServeMux()
    mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"account_id": "acc-self"}`))
    })
    mux.HandleFunc("/ex/jira/cloud-abc/rest/api/3/search", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"total": 1, "issues": [{"key": "WP-1", "fields": {}}]}`))
    })
    mux.HandleFunc("/ex/jira/cloud-abc/rest/api/3/issue/WP-1/worklog", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"worklogs": [
            {"id": "4", "author": {"accountId": "acc-self"}, "started": "2026-08-03T14:00:00.000+0000", "timeSpentSeconds": 600}
        ]}`))
    })
    srv := httptest.NewServer(mux)
    defer srv.Close()

    // connection predates account id capture
    access := domain.Access{Token: "at", Metadata: map[string]any{"cloud_id": "cloud-abc"}}
    got, err := testClient(srv).FetchResources(context.Background(), access, domain.KindWorklogs, start, end)
    if err != nil { t.Fatalf("FetchResources: %v", err) }
    if len(got) != 1 || got[0]["id"] != "4" { t.Fatalf("worklogs = %v", got) }
}

func TestFetchWithoutCloudID(t *testing.T) {
    srv := httptest.NewServer(http.NotFoundHandler())
    defer srv.Close()

    access := domain.Access{Token: "at"}
    _, err := testClient(srv).FetchResources(context.Background(), access, domain.KindIssues,
        time.Now().Add(-time.Hour), time.Now())
    if !domain.IsAuthError(err) { t.Fatalf("want AuthError, got %v", err) }
}

func TestRateLimited(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Retry-After", "60")
        w.WriteHeader(http.StatusTooManyRequests)
    }))
    defer srv.Close()

    access := domain.Access{Token: "at", Metadata: map[string]any{"cloud_id": "cloud-abc"}}
    _, err := testClient(srv).FetchResources(context.Background(), access, domain.KindIssues,
        time.Now().Add(-time.Hour), time.Now())
    var rl *domain.RateLimitError
    if !errors.As(err, &rl) { t.Fatalf("want RateLimitError, got %v", err) }
    if rl.RetryAfter != 60*time.Second { t.Fatalf("RetryAfter = %s", rl.RetryAfter) }
}

package slack

import (
    "context"
    "net/http"
    "net/http/httptest"
    "net/url"
    "strings"
    "testing"
    "time"

    "github.com/rs/zerolog"

    "github.com/workpulse/workpulse/internal/config"
    "github.com/workpulse/workpulse/internal/domain"
)

func testClient(srv *httptest.Server) *Client {
    return &Client{
        app: config.OAuthApp{
            ClientID:     "cid",
            ClientSecret: "secret",
            RedirectURL:  "http://localhost/auth/slack/callback",
            Scopes:       []string{"channels:history", "channels:read"},
        },
        authURL:  srv.URL + "/oauth/v2/authorize",
        tokenURL: srv.URL + "/api/oauth.v2.access",
        apiBase:  srv.URL + "/api",
        http:     srv.Client(),
        log:      zerolog.Nop(),
    }
}

func TestAuthorizationURL(t *testing.T) {
    srv := httptest.NewServer(http.NotFoundHandler())
    defer srv.Close()
    c := testClient(srv)

    raw := c.AuthorizationURL("state-123")
    u, err := url.Parse(raw)
    if err != nil { t.Fatalf("parse: %v", err) }
    q := u.Query()
    if q.Get("state") != "state-123" { t.Fatalf("state = %q", q.Get("state")) }
    if q.Get("user_scope") != "channels:history,channels:read" {
        t.Fatalf("user_scope = %q", q.Get("user_scope"))
    }
    if q.Get("client_id") != "cid" { t.Fatalf("client_id = %q", q.Get("client_id")) }
}

func TestExchangeCode(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if err := r.ParseForm(); err != nil { t.Fatal(err) }
        if r.PostForm.Get("code") != "the-code" { t.Fatalf("code = %q", r.PostForm.Get("code")) }
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{
            "ok": true,
            "authed_user": {"id": "U123", "access_token": "xoxp-abc", "token_type": "user", "scope": "channels:history,channels:read"},
            "team": {"id": "T999", "name": "acme"}
        }`))
    }))
    defer srv.Close()

    grant, err := testClient(srv).ExchangeCode(context.Background(), "the-code")
    if err != nil { t.Fatalf("ExchangeCode: %v", err) }
    if grant.AccessToken != "xoxp-abc" { t.Fatalf("access token = %q", grant.AccessToken) }
    if grant.RefreshToken != "" { t.Fatalf("unexpected refresh token %q", grant.RefreshToken) }
    if grant.ExpiresIn != 0 { t.Fatalf("slack tokens must not expire, got %d", grant.ExpiresIn) }
    if grant.Metadata["slack_user_id"] != "U123" { t.Fatalf("metadata = %v", grant.Metadata) }
    if grant.Metadata["team_id"] != "T999" { t.Fatalf("metadata = %v", grant.Metadata) }
}

func TestExchangeCodeProviderError(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"ok": false, "error": "invalid_code"}`))
    }))
    defer srv.Close()

    _, err := testClient(srv).ExchangeCode(context.Background(), "bad")
    if !domain.IsExchangeError(err) { t.Fatalf("want ExchangeError, got %v", err) }
    if !strings.Contains(err.Error(), "invalid_code") { t.Fatalf("error should carry provider code: %v", err) }
}

func TestRefreshNotSupported(t *testing.T) {
    srv := httptest.NewServer(http.NotFoundHandler())
    defer srv.Close()
    c := testClient(srv)
    if c.SupportsRefresh() { t.Fatal("slack must not report refresh support") }
    if _, err := c.Refresh(context.Background(), "anything"); err == nil {
        t.Fatal("Refresh should error")
    }
}

func TestFetchMessagesFiltersByUser(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        switch {
        case strings.Contains(r.URL.Path, "conversations.list"):
            w.Write([]byte(`{"ok": true, "channels": [{"id": "C1", "name": "general"}], "response_metadata": {"next_cursor": ""}}`))
        case strings.Contains(r.URL.Path, "conversations.history"):
            w.Write([]byte(`{"ok": true, "has_more": false, "messages": [
                {"user": "U123", "text": "mine", "ts": "1700000000.0001"},
                {"user": "U456", "text": "theirs", "ts": "1700000000.0002"}
            ]}`))
        default:
            t.Fatalf("unexpected path %s", r.URL.Path)
        }
    }))
    defer srv.Close()

    access := domain.Access{Token: "xoxp", Metadata: map[string]any{"slack_user_id": "U123"}}
    got, err := testClient(srv).FetchResources(context.Background(), access, domain.KindMessages,
        time.Now().Add(-24*time.Hour), time.Now())
    if err != nil { t.Fatalf("FetchResources: %v", err) }
    if len(got) != 1 { t.Fatalf("expected 1 message, got %d", len(got)) }
    if got[0]["text"] != "mine" { t.Fatalf("got %v", got[0]) }
    if got[0]["channel_name"] != "general" { t.Fatalf("channel name not annotated: %v", got[0]) }
}

func TestInvalidAuthMapsToAuthError(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"ok": false, "error": "token_revoked"}`))
    }))
    defer srv.Close()

    access := domain.Access{Token: "dead"}
    _, err := testClient(srv).FetchResources(context.Background(), access, domain.KindMessages,
        time.Now().Add(-time.Hour), time.Now())
    if !domain.IsAuthError(err) { t.Fatalf("want AuthError, got %v", err) }
}

func TestRateLimitedStatus(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Retry-After", "30")
        w.WriteHeader(http.StatusTooManyRequests)
    }))
    defer srv.Close()

    access := domain.Access{Token: "xoxp"}
    _, err := testClient(srv).FetchResources(context.Background(), access, domain.KindReactions,
        time.Now().Add(-time.Hour), time.Now())
    if !domain.IsRateLimitError(err) { t.Fatalf("want RateLimitError, got %v", err) }
}

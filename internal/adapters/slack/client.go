/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package slack

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/url"
    "strconv"
    "strings"
    "time"

    "github.com/rs/zerolog"

    "github.com/workpulse/workpulse/internal/adapters"
    "github.com/workpulse/workpulse/internal/config"
    "github.com/workpulse/workpulse/internal/domain"
)

// Slack's OAuth response does not follow RFC 6749 (tokens live under
// authed_user, errors under an "ok" flag), so the exchange is done by
// hand instead of through the oauth2 package.
type Client struct {
    app      config.OAuthApp
    authURL  string
    tokenURL string
    apiBase  string
    http     *http.Client
    log      zerolog.Logger
}

func New(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{
        app:      cfg.Slack,
        authURL:  "https://slack.com/oauth/v2/authorize",
        tokenURL: "https://slack.com/api/oauth.v2.access",
        apiBase:  "https://slack.com/api",
        http:     &http.Client{Timeout: cfg.HTTPTimeout},
        log:      log.With().Str("adapter", "slack").Logger(),
    }
}

func (c *Client) Provider() domain.Provider { return domain.ProviderSlack }

// Slack user tokens do not expire and Slack issues no refresh token
// unless token rotation is opted into app-wide.
func (c *Client) SupportsRefresh() bool { return false }

func (c *Client) AuthorizationURL(state string) string {
    q := url.Values{}
    q.Set("client_id", c.app.ClientID)
    q.Set("user_scope", strings.Join(c.app.Scopes, ","))
    q.Set("redirect_uri", c.app.RedirectURL)
    q.Set("state", state)
    return c.authURL + "?" + q.Encode()
}

type oauthAccessResponse struct {
    OK         bool   `json:"ok"`
    Error      string `json:"error"`
    AuthedUser struct {
        ID          string `json:"id"`
        AccessToken string `json:"access_token"`
        TokenType   string `json:"token_type"`
        Scope       string `json:"scope"`
    } `json:"authed_user"`
    Team struct {
        ID   string `json:"id"`
        Name string `json:"name"`
    } `json:"team"`
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.TokenGrant, error) {
    form := url.Values{}
    form.Set("client_id", c.app.ClientID)
    form.Set("client_secret", c.app.ClientSecret)
    form.Set("code", code)
    form.Set("redirect_uri", c.app.RedirectURL)

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
    if err != nil { return nil, err }
    req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

    resp, err := c.http.Do(req)
    if err != nil { return nil, &domain.ExchangeError{Provider: c.Provider(), Err: err} }
    defer resp.Body.Close()

    var body oauthAccessResponse
    if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
        return nil, &domain.ExchangeError{Provider: c.Provider(), Status: resp.StatusCode, Err: err}
    }
    if resp.StatusCode != http.StatusOK || !body.OK {
        return nil, &domain.ExchangeError{Provider: c.Provider(), Status: resp.StatusCode, Body: body.Error}
    }
    if body.AuthedUser.AccessToken == "" {
        return nil, &domain.ExchangeError{Provider: c.Provider(), Status: resp.StatusCode, Body: "no user token in response"}
    }

    return &domain.TokenGrant{
        AccessToken: body.AuthedUser.AccessToken,
        TokenType:   body.AuthedUser.TokenType,
        Scopes:      strings.Split(body.AuthedUser.Scope, ","),
        Metadata: map[string]any{
            "slack_user_id": body.AuthedUser.ID,
            "team_id":       body.Team.ID,
            "team_name":     body.Team.Name,
        },
    }, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
    return nil, fmt.Errorf("slack: tokens do not expire, refresh is not supported")
}

func (c *Client) FetchResources(ctx context.Context, access domain.Access, kind domain.ResourceKind, start, end time.Time) ([]map[string]any, error) {
    switch kind {
    case domain.KindMessages:
        return c.fetchMessages(ctx, access, start, end)
    case domain.KindReactions:
        return c.fetchReactions(ctx, access)
    default:
        return nil, fmt.Errorf("slack: unsupported data type %q", kind)
    }
}

// fetchMessages lists public channels and pulls the caller's own
// messages from each within the window.
func (c *Client) fetchMessages(ctx context.Context, access domain.Access, start, end time.Time) ([]map[string]any, error) {
    userID, _ := access.Metadata["slack_user_id"].(string)

    channels, err := c.listChannels(ctx, access.Token)
    if err != nil { return nil, err }

    var out []map[string]any
    for _, ch := range channels {
        chID, _ := ch["id"].(string)
        chName, _ := ch["name"].(string)
        if chID == "" { continue }
        msgs, err := c.channelHistory(ctx, access.Token, chID, start, end)
        if err != nil {
            // a single un-joinable channel should not fail the fetch
            if domain.IsAuthError(err) || domain.IsRateLimitError(err) { return nil, err }
            c.log.Warn().Err(err).Str("channel", chID).Msg("skipping channel history")
            continue
        }
        for _, m := range msgs {
            if userID != "" {
                if u, _ := m["user"].(string); u != userID { continue }
            }
            m["channel_id"] = chID
            m["channel_name"] = chName
            out = append(out, m)
        }
    }
    return out, nil
}

func (c *Client) listChannels(ctx context.Context, token string) ([]map[string]any, error) {
    var out []map[string]any
    cursor := ""
    for {
        q := url.Values{}
        q.Set("types", "public_channel")
        q.Set("limit", "200")
        if cursor != "" { q.Set("cursor", cursor) }

        var body struct {
            slackEnvelope
            Channels []map[string]any `json:"channels"`
            Meta     struct {
                NextCursor string `json:"next_cursor"`
            } `json:"response_metadata"`
        }
        if err := c.callAPI(ctx, token, "conversations.list", q, &body); err != nil { return nil, err }
        out = append(out, body.Channels...)
        cursor = body.Meta.NextCursor
        if cursor == "" { return out, nil }
    }
}

func (c *Client) channelHistory(ctx context.Context, token, channel string, start, end time.Time) ([]map[string]any, error) {
    var out []map[string]any
    cursor := ""
    for {
        q := url.Values{}
        q.Set("channel", channel)
        q.Set("oldest", strconv.FormatInt(start.Unix(), 10))
        q.Set("latest", strconv.FormatInt(end.Unix(), 10))
        q.Set("limit", "200")
        if cursor != "" { q.Set("cursor", cursor) }

        var body struct {
            slackEnvelope
            Messages []map[string]any `json:"messages"`
            HasMore  bool             `json:"has_more"`
            Meta     struct {
                NextCursor string `json:"next_cursor"`
            } `json:"response_metadata"`
        }
        if err := c.callAPI(ctx, token, "conversations.history", q, &body); err != nil { return nil, err }
        out = append(out, body.Messages...)
        if !body.HasMore || body.Meta.NextCursor == "" { return out, nil }
        cursor = body.Meta.NextCursor
    }
}

func (c *Client) fetchReactions(ctx context.Context, access domain.Access) ([]map[string]any, error) {
    var out []map[string]any
    page := 1
    for {
        q := url.Values{}
        q.Set("count", "100")
        q.Set("page", strconv.Itoa(page))

        var body struct {
            slackEnvelope
            Items  []map[string]any `json:"items"`
            Paging struct {
                Page  int `json:"page"`
                Pages int `json:"pages"`
            } `json:"paging"`
        }
        if err := c.callAPI(ctx, access.Token, "reactions.list", q, &body); err != nil { return nil, err }
        out = append(out, body.Items...)
        if body.Paging.Page >= body.Paging.Pages { return out, nil }
        page++
    }
}

type slackEnvelope struct {
    OK    bool   `json:"ok"`
    Error string `json:"error"`
}

func (e slackEnvelope) ok() bool      { return e.OK }
func (e slackEnvelope) errCode() string { return e.Error }

type envelope interface {
    ok() bool
    errCode() string
}

// callAPI issues a GET to a Web API method and maps Slack's in-band
// error codes onto the shared taxonomy.
func (c *Client) callAPI(ctx context.Context, token, method string, q url.Values, dst envelope) error {
    u := c.apiBase + "/" + method + "?" + q.Encode()
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil { return err }
    req.Header.Set("Authorization", "Bearer "+token)

    resp, err := c.http.Do(req)
    if err != nil { return fmt.Errorf("slack: %s: %w", method, err) }
    defer resp.Body.Close()

    if resp.StatusCode == http.StatusTooManyRequests {
        return adapters.ClassifyStatus(c.Provider(), resp)
    }
    if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
        return fmt.Errorf("slack: %s: decode: %w", method, err)
    }
    if !dst.ok() {
        switch dst.errCode() {
        case "invalid_auth", "token_revoked", "token_expired", "account_inactive", "not_authed":
            return &domain.AuthError{Provider: c.Provider(), Status: resp.StatusCode, Reason: dst.errCode()}
        case "ratelimited", "rate_limited":
            return &domain.RateLimitError{Provider: c.Provider()}
        default:
            return fmt.Errorf("slack: %s: %s", method, dst.errCode())
        }
    }
    return nil
}

/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package microsoft

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "time"

    "github.com/rs/zerolog"
    "golang.org/x/oauth2"

    "github.com/workpulse/workpulse/internal/adapters"
    "github.com/workpulse/workpulse/internal/config"
    "github.com/workpulse/workpulse/internal/domain"
)

const graphBase = "https://graph.microsoft.com/v1.0"

// Client talks to Microsoft identity platform and Graph.
type Client struct {
    oauth   *oauth2.Config
    graph   string
    http    *http.Client
    log     zerolog.Logger
}

func New(cfg config.Config, log zerolog.Logger) *Client {
    tenant := cfg.MicrosoftTenant
    return &Client{
        oauth: &oauth2.Config{
            ClientID:     cfg.Microsoft.ClientID,
            ClientSecret: cfg.Microsoft.ClientSecret,
            RedirectURL:  cfg.Microsoft.RedirectURL,
            Scopes:       cfg.Microsoft.Scopes,
            Endpoint: oauth2.Endpoint{
                AuthURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", tenant),
                TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant),
            },
        },
        graph: graphBase,
        http:  &http.Client{Timeout: cfg.HTTPTimeout},
        log:   log.With().Str("adapter", "microsoft").Logger(),
    }
}

func (c *Client) Provider() domain.Provider { return domain.ProviderMicrosoft }

func (c *Client) SupportsRefresh() bool { return true }

func (c *Client) AuthorizationURL(state string) string {
    return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.TokenGrant, error) {
    ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
    tok, err := c.oauth.Exchange(ctx, code)
    if err != nil { return nil, adapters.ExchangeFailure(c.Provider(), err) }
    return adapters.GrantFromToken(tok, c.oauth.Scopes), nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
    ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
    src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
    tok, err := src.Token()
    if err != nil { return nil, adapters.RefreshFailure(c.Provider(), err) }
    g := adapters.GrantFromToken(tok, c.oauth.Scopes)
    // Microsoft rotates refresh tokens; keep the old one if none came back.
    if g.RefreshToken == "" { g.RefreshToken = refreshToken }
    return g, nil
}

func (c *Client) FetchResources(ctx context.Context, access domain.Access, kind domain.ResourceKind, start, end time.Time) ([]map[string]any, error) {
    switch kind {
    case domain.KindCalendar:
        q := url.Values{}
        q.Set("startDateTime", start.UTC().Format(time.RFC3339))
        q.Set("endDateTime", end.UTC().Format(time.RFC3339))
        q.Set("$top", "50")
        return c.collect(ctx, access.Token, c.graph+"/me/calendarView?"+q.Encode())
    case domain.KindEmail:
        filter := fmt.Sprintf("receivedDateTime ge %s and receivedDateTime lt %s",
            start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
        q := url.Values{}
        q.Set("$filter", filter)
        q.Set("$top", "50")
        q.Set("$select", "id,subject,from,receivedDateTime,isRead,importance")
        return c.collect(ctx, access.Token, c.graph+"/me/messages?"+q.Encode())
    case domain.KindTeams:
        return c.teamsMessages(ctx, access.Token)
    default:
        return nil, fmt.Errorf("microsoft: unsupported data type %q", kind)
    }
}

// teamsMessages lists the user's chats and then pulls each chat's
// messages, capped at the 50 most recent chats. A chat whose message
// listing fails is skipped rather than failing the whole fetch.
func (c *Client) teamsMessages(ctx context.Context, token string) ([]map[string]any, error) {
    q := url.Values{}
    q.Set("$top", "50")
    q.Set("$expand", "members")
    chats, err := c.collect(ctx, token, c.graph+"/me/chats?"+q.Encode())
    if err != nil { return nil, err }
    if len(chats) > 50 { chats = chats[:50] }

    var out []map[string]any
    for _, chat := range chats {
        id, _ := chat["id"].(string)
        if id == "" { continue }
        mq := url.Values{}
        mq.Set("$top", "100")
        mq.Set("$orderby", "createdDateTime desc")
        msgs, err := c.collect(ctx, token, c.graph+"/chats/"+url.PathEscape(id)+"/messages?"+mq.Encode())
        if err != nil {
            c.log.Warn().Err(err).Str("chat", id).Msg("chat messages listing failed, skipping chat")
            continue
        }
        out = append(out, msgs...)
    }
    return out, nil
}

// collect follows @odata.nextLink until the listing is exhausted.
func (c *Client) collect(ctx context.Context, token, u string) ([]map[string]any, error) {
    var out []map[string]any
    for u != "" {
        var page struct {
            Value    []map[string]any `json:"value"`
            NextLink string           `json:"@odata.nextLink"`
        }
        if err := c.getJSON(ctx, token, u, &page); err != nil { return nil, err }
        out = append(out, page.Value...)
        u = page.NextLink
    }
    return out, nil
}

func (c *Client) getJSON(ctx context.Context, token, u string, dst any) error {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil { return err }
    req.Header.Set("Authorization", "Bearer "+token)
    req.Header.Set("Accept", "application/json")

    resp, err := c.http.Do(req)
    if err != nil { return fmt.Errorf("microsoft: %w", err) }
    defer resp.Body.Close()

    if err := adapters.ClassifyStatus(c.Provider(), resp); err != nil {
        io.Copy(io.Discard, resp.Body)
        return err
    }
    return json.NewDecoder(resp.Body).Decode(dst)
}

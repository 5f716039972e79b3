/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strconv"
    "strings"
    "time"

    "github.com/rs/zerolog"
    "golang.org/x/oauth2"

    "github.com/workpulse/workpulse/internal/adapters"
    "github.com/workpulse/workpulse/internal/config"
    "github.com/workpulse/workpulse/internal/domain"
)

const (
    resourcesURL = "https://api.atlassian.com/oauth/token/accessible-resources"
    profileURL   = "https://api.atlassian.com/me"
    apiGateway   = "https://api.atlassian.com/ex/jira"
)

var issueFields = []string{
    "summary", "status", "priority", "assignee", "creator", "created",
    "updated", "resolutiondate", "project", "timetracking", "labels",
}

// Client implements Atlassian 3LO OAuth. Every API call goes through
// api.atlassian.com with the cloud id resolved at connect time.
type Client struct {
    oauth     *oauth2.Config
    gateway   string
    resources string
    profile   string
    http      *http.Client
    log       zerolog.Logger
}

func New(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{
        oauth: &oauth2.Config{
            ClientID:     cfg.Jira.ClientID,
            ClientSecret: cfg.Jira.ClientSecret,
            RedirectURL:  cfg.Jira.RedirectURL,
            Scopes:       cfg.Jira.Scopes,
            Endpoint: oauth2.Endpoint{
                AuthURL:  "https://auth.atlassian.com/authorize",
                TokenURL: "https://auth.atlassian.com/oauth/token",
            },
        },
        gateway:   apiGateway,
        resources: resourcesURL,
        profile:   profileURL,
        http:      &http.Client{Timeout: cfg.HTTPTimeout},
        log:       log.With().Str("adapter", "jira").Logger(),
    }
}

func (c *Client) Provider() domain.Provider { return domain.ProviderJira }

func (c *Client) SupportsRefresh() bool { return true }

func (c *Client) AuthorizationURL(state string) string {
    return c.oauth.AuthCodeURL(state,
        oauth2.SetAuthURLParam("audience", "api.atlassian.com"),
        oauth2.SetAuthURLParam("prompt", "consent"),
    )
}

// ExchangeCode trades the code for tokens, then resolves the first
// accessible Jira Cloud site. An account with no sites is unusable;
// the token is discarded.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.TokenGrant, error) {
    ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
    tok, err := c.oauth.Exchange(ctx, code)
    if err != nil { return nil, adapters.ExchangeFailure(c.Provider(), err) }

    site, err := c.firstAccessibleSite(ctx, tok.AccessToken)
    if err != nil { return nil, err }

    grant := adapters.GrantFromToken(tok, c.oauth.Scopes)
    grant.Metadata = map[string]any{
        "cloud_id": site.ID,
        "site_url": site.URL,
    }
    if acct, err := c.myAccountID(ctx, tok.AccessToken); err != nil {
        c.log.Warn().Err(err).Msg("account id lookup failed, deferring to first fetch")
    } else {
        grant.Metadata["account_id"] = acct
    }
    return grant, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
    ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
    src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
    tok, err := src.Token()
    if err != nil { return nil, adapters.RefreshFailure(c.Provider(), err) }
    g := adapters.GrantFromToken(tok, c.oauth.Scopes)
    // Atlassian issues rotating refresh tokens
    if g.RefreshToken == "" { g.RefreshToken = refreshToken }
    return g, nil
}

type site struct {
    ID   string `json:"id"`
    URL  string `json:"url"`
    Name string `json:"name"`
}

func (c *Client) firstAccessibleSite(ctx context.Context, accessToken string) (*site, error) {
    var sites []site
    if err := c.getJSON(ctx, accessToken, c.resources, &sites); err != nil { return nil, err }
    if len(sites) == 0 { return nil, &domain.NoAccessibleSiteError{} }
    return &sites[0], nil
}

func (c *Client) myAccountID(ctx context.Context, accessToken string) (string, error) {
    var me struct {
        AccountID string `json:"account_id"`
    }
    if err := c.getJSON(ctx, accessToken, c.profile, &me); err != nil { return "", err }
    return me.AccountID, nil
}

func (c *Client) FetchResources(ctx context.Context, access domain.Access, kind domain.ResourceKind, start, end time.Time) ([]map[string]any, error) {
    cloudID, _ := access.Metadata["cloud_id"].(string)
    if cloudID == "" {
        return nil, &domain.AuthError{Provider: c.Provider(), Reason: "connection has no cloud_id, reconnect required"}
    }
    base := fmt.Sprintf("%s/%s/rest/api/3", c.gateway, cloudID)

    switch kind {
    case domain.KindIssues:
        return c.searchIssues(ctx, access.Token, base, start, end)
    case domain.KindWorklogs:
        return c.fetchWorklogs(ctx, access, base, start, end)
    default:
        return nil, fmt.Errorf("jira: unsupported data type %q", kind)
    }
}

// searchIssues pages through a JQL search over the analysis window.
func (c *Client) searchIssues(ctx context.Context, token, base string, start, end time.Time) ([]map[string]any, error) {
    jql := fmt.Sprintf("(assignee = currentUser() OR creator = currentUser()) AND updated >= '%s' AND updated <= '%s' ORDER BY updated DESC",
        start.Format("2006-01-02 15:04"), end.Format("2006-01-02 15:04"))

    var out []map[string]any
    startAt := 0
    for {
        q := url.Values{}
        q.Set("jql", jql)
        q.Set("fields", strings.Join(issueFields, ","))
        q.Set("maxResults", "100")
        q.Set("startAt", strconv.Itoa(startAt))

        var page struct {
            Issues []map[string]any `json:"issues"`
            Total  int              `json:"total"`
        }
        if err := c.getJSON(ctx, token, base+"/search?"+q.Encode(), &page); err != nil { return nil, err }
        out = append(out, page.Issues...)
        startAt += len(page.Issues)
        if len(page.Issues) == 0 || startAt >= page.Total { return out, nil }
    }
}

// fetchWorklogs collects the caller's own worklog entries from issues
// they logged time on in the window. Teammates' entries on the same
// issues and entries started outside the window are dropped; a failing
// per-issue worklog listing skips that issue only.
func (c *Client) fetchWorklogs(ctx context.Context, access domain.Access, base string, start, end time.Time) ([]map[string]any, error) {
    accountID, _ := access.Metadata["account_id"].(string)
    if accountID == "" {
        acct, err := c.myAccountID(ctx, access.Token)
        if err != nil { return nil, err }
        accountID = acct
    }

    jql := fmt.Sprintf("worklogAuthor = currentUser() AND worklogDate >= '%s' AND worklogDate <= '%s'",
        start.Format("2006-01-02"), end.Format("2006-01-02"))

    var out []map[string]any
    startAt := 0
    for {
        q := url.Values{}
        q.Set("jql", jql)
        q.Set("fields", "summary,project")
        q.Set("maxResults", "50")
        q.Set("startAt", strconv.Itoa(startAt))

        var page struct {
            Issues []struct {
                Key    string         `json:"key"`
                Fields map[string]any `json:"fields"`
            } `json:"issues"`
            Total int `json:"total"`
        }
        if err := c.getJSON(ctx, access.Token, base+"/search?"+q.Encode(), &page); err != nil { return nil, err }

        for _, iss := range page.Issues {
            var wl struct {
                Worklogs []map[string]any `json:"worklogs"`
            }
            u := base + "/issue/" + url.PathEscape(iss.Key) + "/worklog"
            if err := c.getJSON(ctx, access.Token, u, &wl); err != nil {
                c.log.Warn().Err(err).Str("issue", iss.Key).Msg("worklog listing failed, skipping issue")
                continue
            }
            for _, w := range wl.Worklogs {
                if !worklogMatches(w, accountID, start, end) { continue }
                w["issue_key"] = iss.Key
                if p, ok := iss.Fields["project"].(map[string]any); ok {
                    w["project_key"], _ = p["key"].(string)
                }
                out = append(out, w)
            }
        }
        startAt += len(page.Issues)
        if len(page.Issues) == 0 || startAt >= page.Total { return out, nil }
    }
}

// worklogMatches keeps an entry only when the connected account wrote
// it and its start time falls inside [start, end].
func worklogMatches(w map[string]any, accountID string, start, end time.Time) bool {
    author, _ := w["author"].(map[string]any)
    if author == nil { return false }
    if id, _ := author["accountId"].(string); id != accountID { return false }

    raw, _ := w["started"].(string)
    if raw == "" { return false }
    started, err := time.Parse("2006-01-02T15:04:05.000-0700", raw)
    if err != nil {
        started, err = time.Parse(time.RFC3339, raw)
        if err != nil { return false }
    }
    return !started.Before(start) && !started.After(end)
}

func (c *Client) getJSON(ctx context.Context, token, u string, dst any) error {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil { return err }
    req.Header.Set("Authorization", "Bearer "+token)
    req.Header.Set("Accept", "application/json")

    resp, err := c.http.Do(req)
    if err != nil { return fmt.Errorf("jira: %w", err) }
    defer resp.Body.Close()

    if err := adapters.ClassifyStatus(c.Provider(), resp); err != nil {
        io.Copy(io.Discard, resp.Body)
        return err
    }
    return json.NewDecoder(resp.Body).Decode(dst)
}

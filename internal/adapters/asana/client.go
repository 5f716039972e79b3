/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package asana

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

const apiBase = "https://app.asana.com/api/1.0"

type Client struct {
    oauth *oauth2.Config
    api   string
    http  *http.Client
    log   zerolog.Logger
}

func New(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{
        oauth: &oauth2.Config{
            ClientID:     cfg.Asana.ClientID,
            ClientSecret: cfg.Asana.ClientSecret,
            RedirectURL:  cfg.Asana.RedirectURL,
            Endpoint: oauth2.Endpoint{
                AuthURL:   "https://app.asana.com/-/oauth_authorize",
                TokenURL:  "https://app.asana.com/-/oauth_token",
                AuthStyle: oauth2.AuthStyleInParams,
            },
        },
        api:  apiBase,
        http: &http.Client{Timeout: cfg.HTTPTimeout},
        log:  log.With().Str("adapter", "asana").Logger(),
    }
}

func (c *Client) Provider() domain.Provider { return domain.ProviderAsana }

func (c *Client) SupportsRefresh() bool { return true }

func (c *Client) AuthorizationURL(state string) string {
    return c.oauth.AuthCodeURL(state)
}

// ExchangeCode resolves the user's gid from the token response and the
// default workspace from /workspaces, both kept as connection metadata.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.TokenGrant, error) {
    ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
    tok, err := c.oauth.Exchange(ctx, code)
    if err != nil { return nil, adapters.ExchangeFailure(c.Provider(), err) }

    grant := adapters.GrantFromToken(tok, nil)
    grant.Metadata = map[string]any{}
    if data, ok := tok.Extra("data").(map[string]any); ok {
        if gid, ok := data["gid"].(string); ok { grant.Metadata["user_gid"] = gid }
        if id, ok := data["id"].(float64); ok { grant.Metadata["user_gid"] = fmt.Sprintf("%.0f", id) }
        if name, ok := data["name"].(string); ok { grant.Metadata["user_name"] = name }
    }

    ws, err := c.firstWorkspace(ctx, tok.AccessToken)
    if err != nil {
        c.log.Warn().Err(err).Msg("workspace lookup failed at connect time")
    } else if ws != "" {
        grant.Metadata["workspace_gid"] = ws
    }
    return grant, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
    ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
    src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
    tok, err := src.Token()
    if err != nil { return nil, adapters.RefreshFailure(c.Provider(), err) }
    g := adapters.GrantFromToken(tok, nil)
    if g.RefreshToken == "" { g.RefreshToken = refreshToken }
    return g, nil
}

func (c *Client) firstWorkspace(ctx context.Context, token string) (string, error) {
    var body struct {
        Data []struct {
            GID string `json:"gid"`
        } `json:"data"`
    }
    if err := c.getJSON(ctx, token, c.api+"/workspaces?limit=1", &body); err != nil { return "", err }
    if len(body.Data) == 0 { return "", nil }
    return body.Data[0].GID, nil
}

func (c *Client) FetchResources(ctx context.Context, access domain.Access, kind domain.ResourceKind, start, end time.Time) ([]map[string]any, error) {
    workspace, _ := access.Metadata["workspace_gid"].(string)
    if workspace == "" {
        // connection predates workspace capture, resolve it now
        ws, err := c.firstWorkspace(ctx, access.Token)
        if err != nil { return nil, err }
        if ws == "" { return nil, fmt.Errorf("asana: account has no workspaces") }
        workspace = ws
    }

    switch kind {
    case domain.KindTasks:
        q := url.Values{}
        q.Set("assignee", "me")
        q.Set("workspace", workspace)
        q.Set("modified_since", start.UTC().Format(time.RFC3339))
        q.Set("opt_fields", "gid,name,completed,completed_at,created_at,modified_at,due_on,projects.name,num_subtasks,assignee.gid")
        q.Set("limit", "100")
        return c.collect(ctx, access.Token, c.api+"/tasks?"+q.Encode())
    case domain.KindProjects:
        q := url.Values{}
        q.Set("workspace", workspace)
        q.Set("opt_fields", "gid,name,created_at,modified_at,archived")
        q.Set("limit", "100")
        return c.collect(ctx, access.Token, c.api+"/projects?"+q.Encode())
    default:
        return nil, fmt.Errorf("asana: unsupported data type %q", kind)
    }
}

// collect follows next_page offsets until exhausted.
func (c *Client) collect(ctx context.Context, token, u string) ([]map[string]any, error) {
    var out []map[string]any
    for u != "" {
        var page struct {
            Data     []map[string]any `json:"data"`
            NextPage *struct {
                URI string `json:"uri"`
            } `json:"next_page"`
        }
        if err := c.getJSON(ctx, token, u, &page); err != nil { return nil, err }
        out = append(out, page.Data...)
        if page.NextPage == nil { break }
        u = page.NextPage.URI
    }
    return out, nil
}

func (c *Client) getJSON(ctx context.Context, token, u string, dst any) error {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil { return err }
    req.Header.Set("Authorization", "Bearer "+token)
    req.Header.Set("Accept", "application/json")

    resp, err := c.http.Do(req)
    if err != nil { return fmt.Errorf("asana: %w", err) }
    defer resp.Body.Close()

    if err := adapters.ClassifyStatus(c.Provider(), resp); err != nil {
        io.Copy(io.Discard, resp.Body)
        return err
    }
    return json.NewDecoder(resp.Body).Decode(dst)
}

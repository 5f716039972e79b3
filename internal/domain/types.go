package domain

import (
    "fmt"
    "time"
)

// Provider identifies one of the supported external SaaS systems.
type Provider string

const (
    ProviderMicrosoft Provider = "microsoft"
    ProviderSlack     Provider = "slack"
    ProviderJira      Provider = "jira"
    ProviderAsana     Provider = "asana"
)

func Providers() []Provider {
    return []Provider{ProviderMicrosoft, ProviderSlack, ProviderJira, ProviderAsana}
}

func ParseProvider(s string) (Provider, error) {
    switch Provider(s) {
    case ProviderMicrosoft, ProviderSlack, ProviderJira, ProviderAsana:
        return Provider(s), nil
    }
    return "", fmt.Errorf("unknown provider %q", s)
}

// ResourceKind names one class of remote records a provider can yield.
type ResourceKind string

const (
    KindCalendar  ResourceKind = "calendar"
    KindEmail     ResourceKind = "email"
    KindTeams     ResourceKind = "teams"
    KindMessages  ResourceKind = "messages"
    KindReactions ResourceKind = "reactions"
    KindIssues    ResourceKind = "issues"
    KindWorklogs  ResourceKind = "worklogs"
    KindTasks     ResourceKind = "tasks"
    KindProjects  ResourceKind = "projects"
    KindStats     ResourceKind = "stats"
    KindFeatures  ResourceKind = "features"
)

// TokenState is the lifecycle state of a stored credential.
type TokenState string

const (
    StateConnected TokenState = "connected"
    StateExpired   TokenState = "expired"
    StateRevoked   TokenState = "revoked"
)

// OAuthToken is the persisted credential for one (user, provider) pair.
// Access and refresh tokens are stored as ciphertext; only the token
// lifecycle manager sees plaintext.
type OAuthToken struct {
    ID           int64
    UserID       string
    Provider     Provider
    AccessToken  []byte
    RefreshToken []byte
    TokenType    string
    ExpiresAt    *time.Time
    Scopes       []string
    Revoked      bool
    Metadata     map[string]any
    CreatedAt    time.Time
    UpdatedAt    time.Time
}

// Expired reports whether the token's declared expiry has passed.
// Tokens without an expiry (Slack) never expire.
func (t *OAuthToken) Expired(now time.Time) bool {
    return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

func (t *OAuthToken) State(now time.Time) TokenState {
    if t.Revoked { return StateRevoked }
    if t.Expired(now) { return StateExpired }
    return StateConnected
}

// TokenGrant is the plaintext result of a code exchange or refresh.
// ExpiresIn of zero means the provider issued a non-expiring token.
type TokenGrant struct {
    AccessToken  string
    RefreshToken string
    TokenType    string
    ExpiresIn    int64
    Scopes       []string
    Metadata     map[string]any
}

// Access carries a decrypted token plus per-connection metadata
// (cloud_id for Jira, workspace_gid for Asana, ...) into a fetch call.
type Access struct {
    Token    string
    Metadata map[string]any
}

// FetchRecord is the canonical shape every provider record is mapped to.
// It is an immutable snapshot of one remote entity at fetch time.
type FetchRecord struct {
    ExternalID      string     `json:"external_id"`
    Title           string     `json:"title"`
    Status          string     `json:"status"`
    ActorID         string     `json:"actor_id"`
    ReporterID      string     `json:"reporter_id,omitempty"`
    Project         string     `json:"project"`
    Priority        string     `json:"priority"`
    CreatedAt       *time.Time `json:"created_at,omitempty"`
    UpdatedAt       *time.Time `json:"updated_at,omitempty"`
    ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
    DueAt           *time.Time `json:"due_at,omitempty"`
    DurationSeconds int64      `json:"duration_seconds"`
    EstimateSeconds int64      `json:"estimate_seconds"`
    Tags            []string   `json:"tags,omitempty"`
}

// DataFetch is one row of the fetch audit log.
type DataFetch struct {
    ID             int64     `json:"id"`
    UserID         string    `json:"user_id"`
    Provider       Provider  `json:"provider"`
    DataType       string    `json:"data_type"`
    FetchStart     time.Time `json:"fetch_start"`
    FetchEnd       time.Time `json:"fetch_end"`
    Status         string    `json:"status"`
    RecordsFetched int       `json:"records_fetched"`
    ErrorMessage   string    `json:"error,omitempty"`
    CreatedAt      time.Time `json:"created_at"`
}

const (
    FetchInProgress = "in_progress"
    FetchSuccess    = "success"
    FetchFailed     = "failed"
)

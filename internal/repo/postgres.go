package repo

import (
    "context"
    "encoding/json"
    "errors"
    "time"

    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/rs/zerolog"

    "github.com/workpulse/workpulse/internal/config"
    "github.com/workpulse/workpulse/internal/domain"
)

type DB struct {
    Pool *pgxpool.Pool
    log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
    pool, err := pgxpool.New(ctx, cfg.DBDSN)
    if err != nil { log.Fatal().Err(err).Msg("db connect failed") }
    ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
    if err := pool.Ping(ctx2); err != nil { log.Fatal().Err(err).Msg("db ping failed") }
    return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
    db  *DB
    log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
    return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
    if !ok && err == nil { return errors.New("advisory unlock returned false") }
    return err
}

// UpsertToken replaces the stored credential for (user, provider).
// A reconnect after revocation lands here too, clearing the flag.
func (r *Repository) UpsertToken(ctx context.Context, t *domain.OAuthToken) error {
    const q = `
        INSERT INTO oauth_tokens(user_id, provider, access_token, refresh_token,
            token_type, expires_at, scopes, revoked, metadata, created_at, updated_at)
        VALUES($1,$2,$3,$4,$5,$6,$7,false,$8,now(),now())
        ON CONFLICT(user_id, provider) DO UPDATE SET
            access_token=EXCLUDED.access_token,
            refresh_token=EXCLUDED.refresh_token,
            token_type=EXCLUDED.token_type,
            expires_at=EXCLUDED.expires_at,
            scopes=EXCLUDED.scopes,
            revoked=false,
            metadata=EXCLUDED.metadata,
            updated_at=now()
        RETURNING id`
    meta, err := metaJSON(t.Metadata)
    if err != nil { return err }
    return r.db.Pool.QueryRow(ctx, q, t.UserID, t.Provider, t.AccessToken, t.RefreshToken,
        t.TokenType, t.ExpiresAt, t.Scopes, meta).Scan(&t.ID)
}

// UpdateGrant rewrites only the credential columns after a refresh,
// leaving metadata and scopes as connected.
func (r *Repository) UpdateGrant(ctx context.Context, userID string, provider domain.Provider,
    access, refresh []byte, tokenType string, expiresAt *time.Time) error {
    const q = `
        UPDATE oauth_tokens
        SET access_token=$3, refresh_token=$4, token_type=$5, expires_at=$6,
            revoked=false, updated_at=now()
        WHERE user_id=$1 AND provider=$2`
    tag, err := r.db.Pool.Exec(ctx, q, userID, provider, access, refresh, tokenType, expiresAt)
    if err != nil { return err }
    if tag.RowsAffected() == 0 { return domain.ErrNotConnected }
    return nil
}

func (r *Repository) GetToken(ctx context.Context, userID string, provider domain.Provider) (*domain.OAuthToken, error) {
    const q = `
        SELECT id, user_id, provider, access_token, refresh_token, token_type,
            expires_at, scopes, revoked, metadata, created_at, updated_at
        FROM oauth_tokens WHERE user_id=$1 AND provider=$2`
    t, err := scanToken(r.db.Pool.QueryRow(ctx, q, userID, provider))
    if errors.Is(err, pgx.ErrNoRows) { return nil, domain.ErrNotConnected }
    if err != nil { return nil, err }
    return t, nil
}

func (r *Repository) ListTokens(ctx context.Context, userID string) ([]*domain.OAuthToken, error) {
    const q = `
        SELECT id, user_id, provider, access_token, refresh_token, token_type,
            expires_at, scopes, revoked, metadata, created_at, updated_at
        FROM oauth_tokens WHERE user_id=$1 ORDER BY provider`
    rows, err := r.db.Pool.Query(ctx, q, userID)
    if err != nil { return nil, err }
    defer rows.Close()

    var out []*domain.OAuthToken
    for rows.Next() {
        t, err := scanToken(rows)
        if err != nil { return nil, err }
        out = append(out, t)
    }
    return out, rows.Err()
}

func (r *Repository) MarkRevoked(ctx context.Context, userID string, provider domain.Provider) error {
    const q = `UPDATE oauth_tokens SET revoked=true, updated_at=now() WHERE user_id=$1 AND provider=$2`
    tag, err := r.db.Pool.Exec(ctx, q, userID, provider)
    if err != nil { return err }
    if tag.RowsAffected() == 0 { return domain.ErrNotConnected }
    return nil
}

// DeleteToken removes the stored credential entirely (disconnect).
func (r *Repository) DeleteToken(ctx context.Context, userID string, provider domain.Provider) error {
    tag, err := r.db.Pool.Exec(ctx,
        `DELETE FROM oauth_tokens WHERE user_id=$1 AND provider=$2`, userID, provider)
    if err != nil { return err }
    if tag.RowsAffected() == 0 { return domain.ErrNotConnected }
    return nil
}

// StartFetch opens an audit row and returns its id for FinishFetch.
func (r *Repository) StartFetch(ctx context.Context, f *domain.DataFetch) (int64, error) {
    const q = `
        INSERT INTO data_fetches(user_id, provider, data_type, fetch_start, fetch_end,
            status, records_fetched, created_at)
        VALUES($1,$2,$3,$4,$5,$6,0,now())
        RETURNING id`
    var id int64
    err := r.db.Pool.QueryRow(ctx, q, f.UserID, f.Provider, f.DataType,
        f.FetchStart, f.FetchEnd, domain.FetchInProgress).Scan(&id)
    return id, err
}

func (r *Repository) FinishFetch(ctx context.Context, id int64, status string, records int, errMsg string) error {
    const q = `
        UPDATE data_fetches SET status=$2, records_fetched=$3, error_message=NULLIF($4,'')
        WHERE id=$1`
    _, err := r.db.Pool.Exec(ctx, q, id, status, records, errMsg)
    return err
}

func (r *Repository) ListFetches(ctx context.Context, userID string, limit int) ([]domain.DataFetch, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    const q = `
        SELECT id, user_id, provider, data_type, fetch_start, fetch_end,
            status, records_fetched, COALESCE(error_message, ''), created_at
        FROM data_fetches WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`
    rows, err := r.db.Pool.Query(ctx, q, userID, limit)
    if err != nil { return nil, err }
    defer rows.Close()

    var out []domain.DataFetch
    for rows.Next() {
        var f domain.DataFetch
        if err := rows.Scan(&f.ID, &f.UserID, &f.Provider, &f.DataType, &f.FetchStart,
            &f.FetchEnd, &f.Status, &f.RecordsFetched, &f.ErrorMessage, &f.CreatedAt); err != nil {
            return nil, err
        }
        out = append(out, f)
    }
    return out, rows.Err()
}

// PruneFetches drops audit rows older than the cutoff, returning the
// number removed.
func (r *Repository) PruneFetches(ctx context.Context, cutoff time.Time) (int64, error) {
    tag, err := r.db.Pool.Exec(ctx, `DELETE FROM data_fetches WHERE created_at < $1`, cutoff)
    if err != nil { return 0, err }
    return tag.RowsAffected(), nil
}

type rowScanner interface {
    Scan(dest ...any) error
}

func scanToken(row rowScanner) (*domain.OAuthToken, error) {
    var t domain.OAuthToken
    var meta []byte
    if err := row.Scan(&t.ID, &t.UserID, &t.Provider, &t.AccessToken, &t.RefreshToken,
        &t.TokenType, &t.ExpiresAt, &t.Scopes, &t.Revoked, &meta,
        &t.CreatedAt, &t.UpdatedAt); err != nil {
        return nil, err
    }
    if len(meta) > 0 {
        if err := json.Unmarshal(meta, &t.Metadata); err != nil { return nil, err }
    }
    return &t, nil
}

func metaJSON(m map[string]any) ([]byte, error) {
    if m == nil { m = map[string]any{} }
    return json.Marshal(m)
}

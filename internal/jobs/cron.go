package jobs

import (
    "context"
    "time"

    "github.com/robfig/cron/v3"
    "github.com/rs/zerolog"

    "github.com/workpulse/workpulse/internal/config"
    "github.com/workpulse/workpulse/internal/repo"
)

type Cron struct {
    cfg  config.Config
    log  zerolog.Logger
    repo *repo.Repository
    c    *cron.Cron
}

// NewCron schedules the fetch-history retention sweep.
func NewCron(cfg config.Config, log zerolog.Logger, r *repo.Repository) *Cron {
    loc, _ := time.LoadLocation(cfg.TZ)
    c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
    cr := &Cron{cfg: cfg, log: log, repo: r, c: c}
    _, _ = c.AddFunc(cfg.RetentionCron, cr.retention)
    return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

// retention prunes old audit rows. The advisory lock keeps a single
// sweeper across replicas.
func (cr *Cron) retention() {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute); defer cancel()
    const lockKey int64 = 727272
    ok, err := cr.repo.TryAdvisoryLock(ctx, lockKey)
    if err != nil { cr.log.Error().Err(err).Msg("cron: lock error"); return }
    if !ok { cr.log.Info().Msg("cron: already running elsewhere"); return }
    defer func() { _ = cr.repo.AdvisoryUnlock(context.Background(), lockKey) }()

    cutoff := time.Now().Add(-cr.cfg.FetchRetention)
    n, err := cr.repo.PruneFetches(ctx, cutoff)
    if err != nil {
        cr.log.Error().Err(err).Msg("cron: retention sweep failed")
        return
    }
    cr.log.Info().Int64("pruned", n).Time("cutoff", cutoff).Msg("cron: retention sweep")
}

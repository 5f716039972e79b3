/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
    "context"
    "fmt"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/go-redis/redis/v8"

    "github.com/workpulse/workpulse/internal/adapters"
    "github.com/workpulse/workpulse/internal/adapters/asana"
    "github.com/workpulse/workpulse/internal/adapters/jira"
    "github.com/workpulse/workpulse/internal/adapters/microsoft"
    "github.com/workpulse/workpulse/internal/adapters/slack"
    "github.com/workpulse/workpulse/internal/config"
    "github.com/workpulse/workpulse/internal/domain"
    httpapi "github.com/workpulse/workpulse/internal/http"
    "github.com/workpulse/workpulse/internal/jobs"
    "github.com/workpulse/workpulse/internal/logger"
    "github.com/workpulse/workpulse/internal/repo"
    "github.com/workpulse/workpulse/internal/secrets"
    "github.com/workpulse/workpulse/internal/services"
    "github.com/workpulse/workpulse/internal/statestore"
    "github.com/workpulse/workpulse/internal/tokens"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        // no logger yet
        fmt.Fprintln(os.Stderr, "config:", err)
        os.Exit(1)
    }
    log := logger.New(cfg)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    if err := repo.Migrate(cfg.DBDSN, cfg.MigrationsDir); err != nil {
        log.Fatal().Err(err).Msg("migrations failed")
    }

    db := repo.MustOpen(ctx, cfg, log)
    defer db.Close()
    repository := repo.NewRepository(db, log)

    box, err := secrets.NewBox(cfg.EncryptionKey)
    if err != nil { log.Fatal().Err(err).Msg("encryption key rejected") }

    // Adapters: only providers with credentials are registered
    registry := adapters.Registry{}
    if cfg.Microsoft.Configured() { registry[domain.ProviderMicrosoft] = microsoft.New(cfg, log) }
    if cfg.Slack.Configured() { registry[domain.ProviderSlack] = slack.New(cfg, log) }
    if cfg.Jira.Configured() { registry[domain.ProviderJira] = jira.New(cfg, log) }
    if cfg.Asana.Configured() { registry[domain.ProviderAsana] = asana.New(cfg, log) }
    if len(registry) == 0 { log.Warn().Msg("no provider credentials configured") }

    // OAuth state: redis when configured, in-process otherwise
    var states statestore.Store
    if cfg.RedisAddr != "" {
        rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
        if err := rdb.Ping(ctx).Err(); err != nil { log.Fatal().Err(err).Msg("redis ping failed") }
        defer rdb.Close()
        states = statestore.NewRedis(rdb, cfg.StateTTL)
    } else {
        states = statestore.NewMemory(cfg.StateTTL)
    }

    tm := tokens.NewManager(repository, box, registry, log)
    svc := services.New(cfg, registry, tm, states, repository, log)

    router := httpapi.NewRouter(cfg, log, svc)

    cron := jobs.NewCron(cfg, log, repository)
    cron.Start()
    defer cron.Stop()

    errCh := make(chan error, 1)
    go func() { errCh <- router.Run(cfg.HTTPAddr) }()
    log.Info().Str("addr", cfg.HTTPAddr).Int("providers", len(registry)).Msg("api listening")

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

    select {
    case <-sigCh:
        log.Info().Msg("shutting down...")
    case err := <-errCh:
        if err != nil { log.Error().Err(err).Msg("http server error") }
    }

    time.Sleep(500 * time.Millisecond)
}

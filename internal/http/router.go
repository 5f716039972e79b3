/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "github.com/gin-gonic/gin"
    "github.com/google/uuid"
    "github.com/rs/zerolog"

    "github.com/workpulse/workpulse/internal/config"
    "github.com/workpulse/workpulse/internal/services"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc *services.Service) *gin.Engine {
    if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(func(c *gin.Context) {
        reqID := c.GetHeader("X-Request-ID")
        if reqID == "" { reqID = uuid.NewString() }
        c.Header("X-Request-ID", reqID)
        c.Set("request_id", reqID)
        c.Next()
        log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Str("rid", reqID).Msg("http")
    })

    h := NewHandlers(cfg, log, svc)

    r.GET("/healthz", h.Healthz)

    auth := r.Group("/auth")
    {
        auth.GET("/:provider/login", h.Login)
        auth.GET("/:provider/callback", h.Callback)
        auth.POST("/refresh", h.Refresh)
        auth.GET("/status/:user_id", h.Status)
        auth.DELETE("/disconnect/:provider", h.Disconnect)
    }

    data := r.Group("/data")
    {
        data.POST("/:provider/fetch", h.Fetch)
        data.GET("/fetch-history/:user_id", h.FetchHistory)
    }

    return r
}

/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "errors"
    "fmt"
    "net/http"
    "net/url"
    "strconv"

    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"

    "github.com/workpulse/workpulse/internal/config"
    "github.com/workpulse/workpulse/internal/domain"
    "github.com/workpulse/workpulse/internal/services"
)

type Handlers struct {
    cfg config.Config
    log zerolog.Logger
    svc *services.Service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc *services.Service) *Handlers {
    return &Handlers{cfg: cfg, log: log, svc: svc}
}

func (h *Handlers) Healthz(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Login redirects the browser to the provider's consent page.
func (h *Handlers) Login(c *gin.Context) {
    provider, err := domain.ParseProvider(c.Param("provider"))
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    userID := c.Query("user_id")
    if userID == "" {
        c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
        return
    }
    authURL, err := h.svc.BeginAuth(c.Request.Context(), userID, provider)
    if err != nil {
        h.fail(c, err)
        return
    }
    c.Redirect(http.StatusFound, authURL)
}

// Callback lands the provider redirect: validates state, exchanges the
// code and bounces the browser back to the frontend.
func (h *Handlers) Callback(c *gin.Context) {
    provider := c.Param("provider")
    if denied := c.Query("error"); denied != "" {
        h.redirectFrontend(c, url.Values{"provider": {provider}, "error": {denied}})
        return
    }
    state, code := c.Query("state"), c.Query("code")
    if state == "" || code == "" {
        c.JSON(http.StatusBadRequest, gin.H{"error": "state and code are required"})
        return
    }

    userID, connected, err := h.svc.CompleteAuth(c.Request.Context(), state, code)
    if err != nil {
        if errors.Is(err, domain.ErrInvalidState) {
            c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
            return
        }
        h.log.Warn().Err(err).Str("provider", provider).Msg("auth completion failed")
        h.redirectFrontend(c, url.Values{"provider": {provider}, "error": {"exchange_failed"}})
        return
    }
    h.redirectFrontend(c, url.Values{"provider": {string(connected)}, "connected": {"true"}, "user_id": {userID}})
}

func (h *Handlers) redirectFrontend(c *gin.Context, params url.Values) {
    if h.cfg.FrontendURL == "" {
        if params.Get("error") != "" {
            c.JSON(http.StatusBadGateway, gin.H{"error": params.Get("error")})
            return
        }
        c.JSON(http.StatusOK, gin.H{"provider": params.Get("provider"), "connected": true})
        return
    }
    c.Redirect(http.StatusFound, h.cfg.FrontendURL+"/integrations?"+params.Encode())
}

type refreshRequest struct {
    UserID   string `json:"user_id" binding:"required"`
    Provider string `json:"provider" binding:"required"`
}

func (h *Handlers) Refresh(c *gin.Context) {
    var req refreshRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    provider, err := domain.ParseProvider(req.Provider)
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    state, err := h.svc.Refresh(c.Request.Context(), req.UserID, provider)
    if err != nil {
        h.fail(c, err)
        return
    }
    c.JSON(http.StatusOK, gin.H{"provider": provider, "state": state})
}

func (h *Handlers) Status(c *gin.Context) {
    st, err := h.svc.Status(c.Request.Context(), c.Param("user_id"))
    if err != nil {
        h.fail(c, err)
        return
    }
    c.JSON(http.StatusOK, gin.H{"user_id": c.Param("user_id"), "connections": st})
}

func (h *Handlers) Disconnect(c *gin.Context) {
    provider, err := domain.ParseProvider(c.Param("provider"))
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    userID := c.Query("user_id")
    if userID == "" {
        c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
        return
    }
    if err := h.svc.Disconnect(c.Request.Context(), userID, provider); err != nil {
        h.fail(c, err)
        return
    }
    c.JSON(http.StatusOK, gin.H{"provider": provider, "disconnected": true})
}

type fetchRequest struct {
    UserID    string   `json:"user_id" binding:"required"`
    DataTypes []string `json:"data_types"`
    DaysBack  int      `json:"days_back"`
}

func (h *Handlers) Fetch(c *gin.Context) {
    provider, err := domain.ParseProvider(c.Param("provider"))
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    var req fetchRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    kinds := make([]domain.ResourceKind, 0, len(req.DataTypes))
    for _, dt := range req.DataTypes {
        kinds = append(kinds, domain.ResourceKind(dt))
    }
    start, end := h.svc.Window(req.DaysBack)
    res, err := h.svc.Fetch(c.Request.Context(), req.UserID, provider, kinds, start, end)
    if err != nil {
        h.fail(c, err)
        return
    }
    c.JSON(http.StatusOK, res)
}

func (h *Handlers) FetchHistory(c *gin.Context) {
    limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
    rows, err := h.svc.FetchHistory(c.Request.Context(), c.Param("user_id"), limit)
    if err != nil {
        h.fail(c, err)
        return
    }
    c.JSON(http.StatusOK, gin.H{"user_id": c.Param("user_id"), "fetches": rows})
}

// fail maps domain errors onto HTTP statuses.
func (h *Handlers) fail(c *gin.Context, err error) {
    var (
        ce  *domain.ConfigError
        ee  *domain.ExchangeError
        ae  *domain.AuthError
        re  *domain.RateLimitError
        nas *domain.NoAccessibleSiteError
    )
    switch {
    case errors.Is(err, domain.ErrNotConnected):
        c.JSON(http.StatusNotFound, gin.H{"error": "provider not connected"})
    case errors.Is(err, domain.ErrInvalidState):
        c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
    case errors.As(err, &ae):
        c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "reauthorize": true})
    case errors.As(err, &re):
        if re.RetryAfter > 0 {
            c.Header("Retry-After", fmt.Sprintf("%d", int(re.RetryAfter.Seconds())))
        }
        c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
    case errors.As(err, &ee):
        c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
    case errors.As(err, &nas):
        c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
    case errors.As(err, &ce):
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
    default:
        h.log.Error().Err(err).Msg("request failed")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
    }
}

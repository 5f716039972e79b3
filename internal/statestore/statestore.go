/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package statestore issues and consumes one-time OAuth state tokens.
package statestore

import (
    "context"
    "crypto/rand"
    "encoding/base64"

    "github.com/workpulse/workpulse/internal/domain"
)

// Store is the CSRF state registry for the OAuth login flow. Consume
// removes the state; a second Consume of the same token fails.
type Store interface {
    Issue(ctx context.Context, userID string, provider domain.Provider) (string, error)
    Consume(ctx context.Context, state string) (userID string, provider domain.Provider, err error)
}

func newToken() (string, error) {
    buf := make([]byte, 32)
    if _, err := rand.Read(buf); err != nil { return "", err }
    return base64.RawURLEncoding.EncodeToString(buf), nil
}

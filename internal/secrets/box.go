/* Copyright (c) 2025 WorkPulse Authors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package secrets encrypts provider tokens at rest. One process-wide
// AES-256-GCM key; nonce is prepended to each ciphertext.
package secrets

import (
    "crypto/aes"
    "crypto/cipher"
    "crypto/rand"
    "errors"
    "io"

    "github.com/workpulse/workpulse/internal/domain"
)

type Box struct {
    aead cipher.AEAD
}

func NewBox(key []byte) (*Box, error) {
    if len(key) != 32 {
        return nil, &domain.ConfigError{Field: "TOKEN_ENCRYPTION_KEY", Reason: "must decode to 32 bytes"}
    }
    block, err := aes.NewCipher(key)
    if err != nil { return nil, err }
    aead, err := cipher.NewGCM(block)
    if err != nil { return nil, err }
    return &Box{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce. Empty plaintext
// yields nil so absent refresh tokens round-trip as absent.
func (b *Box) Encrypt(plaintext string) ([]byte, error) {
    if plaintext == "" { return nil, nil }
    nonce := make([]byte, b.aead.NonceSize())
    if _, err := io.ReadFull(rand.Reader, nonce); err != nil { return nil, err }
    return b.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (b *Box) Decrypt(ciphertext []byte) (string, error) {
    if len(ciphertext) == 0 { return "", nil }
    ns := b.aead.NonceSize()
    if len(ciphertext) < ns { return "", errors.New("secrets: ciphertext too short") }
    nonce, sealed := ciphertext[:ns], ciphertext[ns:]
    plain, err := b.aead.Open(nil, nonce, sealed, nil)
    if err != nil { return "", err }
    return string(plain), nil
}

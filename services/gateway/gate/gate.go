// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gate implements the shared-secret access check that admits a
// session. There is no token issuance and no expiry; a successful
// check flips the session's authenticated flag and the session ID is
// the only correlation handle.
package gate

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when login attempts exceed the
// configured rate. Distinct from a mismatch so the boundary can answer
// 429 instead of 401.
var ErrRateLimited = errors.New("too many login attempts")

// DefaultAttemptsPerSecond bounds credential-guessing throughput
// process-wide.
const DefaultAttemptsPerSecond = 2

// Gate holds the configured shared secret in a sealed memguard
// enclave. The secret is decrypted only for the duration of one
// comparison and is never logged or echoed.
type Gate struct {
	secret  *memguard.Enclave
	limiter *rate.Limiter
}

// New creates a Gate from the configured secret. The plaintext is
// sealed immediately; callers should not retain their copy.
func New(secret string) (*Gate, error) {
	if secret == "" {
		return nil, fmt.Errorf("gate: secret must not be empty")
	}
	return &Gate{
		secret:  memguard.NewEnclave([]byte(secret)),
		limiter: rate.NewLimiter(rate.Limit(DefaultAttemptsPerSecond), DefaultAttemptsPerSecond),
	}, nil
}

// Verify compares a candidate credential against the configured
// secret in constant time.
//
// # Outputs
//
//   - bool: true only on an exact match.
//   - error: ErrRateLimited when attempts are arriving too fast, or an
//     internal error if the enclave cannot be opened. A plain mismatch
//     is (false, nil); mismatches never raise.
func (g *Gate) Verify(candidate string) (bool, error) {
	if !g.limiter.Allow() {
		return false, ErrRateLimited
	}

	buf, err := g.secret.Open()
	if err != nil {
		return false, fmt.Errorf("gate: open secret: %w", err)
	}
	defer buf.Destroy()

	return subtle.ConstantTimeCompare(buf.Bytes(), []byte(candidate)) == 1, nil
}

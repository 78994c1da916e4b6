// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streamclient

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
)

// =============================================================================
// Chain Verification
// =============================================================================

// ChainResult reports the outcome of verifying one stream's hash
// chain.
//
// # Fields
//
//   - Valid: True when every event's hash recomputes and links.
//   - EventsVerified: How many events were checked before stopping.
//   - BrokenAt: Index of the first bad event, -1 when Valid.
//   - ErrorMessage: Human-readable description of the break.
type ChainResult struct {
	Valid          bool
	EventsVerified int
	BrokenAt       int
	ErrorMessage   string
}

// ChainVerifier checks that a sequence of stream events forms an
// unbroken hash chain.
//
// Each event's Hash covers all of its content fields plus the
// previous event's Hash, so a dropped, reordered, or modified event
// breaks the chain at the first affected index.
//
// # Thread Safety
//
// Verifier state is per-call; the default implementation is safe for
// concurrent use.
type ChainVerifier interface {
	// Verify checks the whole chain. An empty slice is trivially
	// valid.
	Verify(events []datatypes.StreamEvent) ChainResult
}

type chainVerifier struct{}

var _ ChainVerifier = (*chainVerifier)(nil)

// NewChainVerifier creates the default SHA-256 chain verifier.
func NewChainVerifier() ChainVerifier {
	return &chainVerifier{}
}

func (v *chainVerifier) Verify(events []datatypes.StreamEvent) ChainResult {
	result := ChainResult{Valid: true, BrokenAt: -1}

	prevHash := ""
	for i, event := range events {
		if event.PrevHash != prevHash {
			result.Valid = false
			result.BrokenAt = i
			result.ErrorMessage = fmt.Sprintf(
				"chain broken at event %d: expected PrevHash %s, got %s",
				i, truncateHash(prevHash), truncateHash(event.PrevHash))
			return result
		}

		computed := ComputeEventHash(event)
		if !secureHashEqual(computed, event.Hash) {
			result.Valid = false
			result.BrokenAt = i
			result.ErrorMessage = fmt.Sprintf(
				"hash mismatch at event %d: computed %s, stored %s",
				i, truncateHash(computed), truncateHash(event.Hash))
			return result
		}

		prevHash = event.Hash
		result.EventsVerified++
	}
	return result
}

// ComputeEventHash recomputes an event's hash over all content fields.
// Must stay in lockstep with the gateway's SSE writer.
func ComputeEventHash(event datatypes.StreamEvent) string {
	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.SessionId,
	)
	sum := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(sum[:])
}

// secureHashEqual compares two hash strings in constant time.
func secureHashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func truncateHash(h string) string {
	if h == "" {
		return "(empty)"
	}
	if len(h) <= 12 {
		return h
	}
	return h[:12] + "..."
}

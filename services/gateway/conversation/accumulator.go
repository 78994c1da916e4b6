// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// AccumulatorBufferSize is the fixed capacity for one streamed
	// response. 512KB comfortably covers the largest configurable
	// output budget.
	AccumulatorBufferSize = 512 * 1024

	// MinMlockLimitKB is the minimum RLIMIT_MEMLOCK (in KB) required
	// for the mlocked accumulator. Below this, allocation would fail
	// or starve other locked pages.
	MinMlockLimitKB = 1024

	// InsecureMemoryEnvVar opts in to the plain-memory fallback on
	// systems without sufficient mlock.
	InsecureMemoryEnvVar = "SKIFF_INSECURE_MEMORY"
)

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// =============================================================================
// Accumulator Interface
// =============================================================================

// Accumulator collects streamed response deltas into a buffer owned by
// the coordinator, with an incremental SHA-256 over the content.
//
// # Description
//
// The in-progress response is held here rather than in a closure so the
// streaming path has one owner for the buffer, and so the buffer can be
// wiped deterministically. Finalize returns the assembled text and its
// hex hash, then wipes the buffer; after Finalize or Destroy the
// accumulator cannot be reused.
//
// # Thread Safety
//
// Implementations are safe for concurrent use, though streaming writes
// arrive from a single goroutine in delivery order.
type Accumulator interface {
	// Write appends one delta. Returns an error after overflow,
	// Finalize, or Destroy.
	Write(token string) error

	// Finalize returns (text, hexHash, error) and wipes the buffer.
	Finalize() (string, string, error)

	// Discard wipes the buffer without producing text. Used on the
	// failure and cancellation paths; idempotent.
	Discard()

	// ID returns the accumulator instance ID (for log correlation).
	ID() string

	// CreatedAt returns the creation time.
	CreatedAt() time.Time
}

// =============================================================================
// Constructors
// =============================================================================

// NewAccumulator allocates an accumulator for one streamed response.
//
// Uses an mlocked guard-paged buffer when the system's RLIMIT_MEMLOCK
// allows it. Otherwise returns an error unless SKIFF_INSECURE_MEMORY
// is set to "true", in which case a plain-memory fallback is used and
// a warning logged.
func NewAccumulator() (Accumulator, error) {
	initMemguard()

	if !mlockSufficient {
		if os.Getenv(InsecureMemoryEnvVar) == "true" {
			slog.Warn("mlock limit insufficient, using insecure accumulator",
				"limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
			return newPlainAccumulator(), nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB (set %s=true to accept plain memory)",
			currentMlockLimitKB, MinMlockLimitKB, InsecureMemoryEnvVar,
		)
	}

	buf := memguard.NewBuffer(AccumulatorBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", AccumulatorBufferSize)
	}
	buf.Melt()

	return &lockedAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

// MlockStatus reports whether the mlocked accumulator is available and
// the current RLIMIT_MEMLOCK in KB (-1 when unlimited).
func MlockStatus() (bool, int64) {
	initMemguard()
	return mlockSufficient, currentMlockLimitKB
}

// PurgeSecureMemory wipes all memguard-allocated buffers. Called on
// graceful shutdown.
func PurgeSecureMemory() {
	memguard.Purge()
	slog.Info("purged all secure memory")
}

func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if !mlockSufficient {
			slog.Warn("mlock limit below threshold for secure accumulation",
				"limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		}
	})
}

func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// =============================================================================
// Locked Implementation
// =============================================================================

// lockedAccumulator stores deltas in an mlocked, guard-paged buffer so
// model output cannot be swapped to disk before finalization.
type lockedAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

var _ Accumulator = (*lockedAccumulator)(nil)

func (a *lockedAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow: response too large")
	}

	tokenBytes := []byte(token)
	if a.offset+len(tokenBytes) > AccumulatorBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), AccumulatorBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], tokenBytes)
	a.offset += len(tokenBytes)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *lockedAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("finalized accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
	)
	return answer, hashStr, nil
}

func (a *lockedAccumulator) Discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("discarded accumulator", "accumulator_id", a.id)
}

func (a *lockedAccumulator) ID() string           { return a.id }
func (a *lockedAccumulator) CreatedAt() time.Time { return a.createdAt }

// wipe destroys the locked buffer. Caller holds the mutex.
func (a *lockedAccumulator) wipe() {
	a.buffer.Destroy()
	a.destroyed = true
}

// =============================================================================
// Plain-Memory Fallback
// =============================================================================

// plainAccumulator is the fallback for systems without sufficient
// mlock. Same contract, ordinary Go memory: content may be swapped to
// disk and has no guard pages.
type plainAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

var _ Accumulator = (*plainAccumulator)(nil)

func newPlainAccumulator() Accumulator {
	accID := uuid.New().String()
	slog.Warn("created INSECURE accumulator, data may be swapped to disk",
		"accumulator_id", accID,
	)
	return &plainAccumulator{
		id:        accID,
		createdAt: time.Now(),
		data:      make([]byte, 0, AccumulatorBufferSize),
		hasher:    sha256.New(),
	}
}

func (a *plainAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow: response too large")
	}

	tokenBytes := []byte(token)
	if len(a.data)+len(tokenBytes) > AccumulatorBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), AccumulatorBufferSize-len(a.data))
	}

	a.data = append(a.data, tokenBytes...)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *plainAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, hashStr, nil
}

func (a *plainAccumulator) Discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.wipe()
}

func (a *plainAccumulator) ID() string           { return a.id }
func (a *plainAccumulator) CreatedAt() time.Time { return a.createdAt }

func (a *plainAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
)

// =============================================================================
// SSE Writer Interface
// =============================================================================

// SSEWriter writes server-sent events for a streaming chat response.
//
// # Description
//
// Events are written in SSE format ("event: type\ndata: json\n\n") and
// flushed immediately. Every data event carries a SHA-256 hash chained
// to the previous event's hash, so a consumer can detect dropped or
// reordered events within one stream.
//
// # Thread Safety
//
// Implementations are safe for concurrent use; the heartbeat goroutine
// and the token path write through the same mutex.
type SSEWriter interface {
	// WriteEvent writes one event. Id, CreatedAt, Hash, and PrevHash
	// are populated by the writer.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteStatus writes a status event with a progress message.
	WriteStatus(message string) error

	// WriteToken writes one incremental text delta.
	WriteToken(content string) error

	// WriteError writes a terminal error event. The message must
	// already be sanitized for clients.
	WriteError(errMsg string) error

	// WriteDone writes the terminal event carrying the complete
	// assembled text. Called exactly once per successful stream.
	WriteDone(sessionID, content string) error

	// WriteKeepAlive sends an SSE comment line to keep intermediaries
	// from timing out the connection. Not part of the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter writes hash-chained SSE events over an http.ResponseWriter.
//
// Cannot be reused across requests.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

var _ SSEWriter = (*sseWriter)(nil)

// NewSSEWriter creates an SSEWriter over w. The caller must set SSE
// headers first (see SetSSEHeaders). Returns an error if w does not
// support http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	populated := datatypes.NewStreamEvent(event.Type).
		WithMessage(event.Message).
		WithContent(event.Content).
		WithSessionId(event.SessionId).
		WithError(event.Error)
	populated.PrevHash = w.prevHash
	populated.Hash = w.computeEventHash(populated)
	w.prevHash = populated.Hash

	data, err := json.Marshal(populated)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", populated.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash hashes all content fields. Called before the Hash
// field is set; caller holds the mutex.
func (w *sseWriter) computeEventHash(event datatypes.StreamEvent) string {
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

func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: "status", Message: message})
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: "token", Content: content})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: "error", Error: errMsg})
}

func (w *sseWriter) WriteDone(sessionID, content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      "done",
		SessionId: sessionID,
		Content:   content,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures response headers for SSE streaming. Must be
// called before any body writes.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

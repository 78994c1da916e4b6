// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SSE Stream Events
// =============================================================================

// StreamEvent is one server-sent event on the chat stream.
//
// # Description
//
// Events carry incremental output from a streaming chat request. The
// Hash/PrevHash pair forms a per-stream SHA-256 chain so a client (or
// an audit log replay) can detect dropped or reordered events.
//
// Event types on the wire:
//
//   - "status": human-readable progress message
//   - "token": one incremental text delta in Content
//   - "done": terminal event; Content holds the complete text
//   - "error": terminal failure; Error holds a sanitized message
//   - "keepalive": heartbeat comment payload, no content
type StreamEvent struct {
	Id        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Content   string `json:"content,omitempty"`
	SessionId string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}

// NewStreamEvent creates an event of the given type with a generated
// ID and timestamp. Hash fields are populated by the SSE writer.
func NewStreamEvent(eventType string) StreamEvent {
	return StreamEvent{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Type:      eventType,
	}
}

// WithMessage sets the status message.
func (e StreamEvent) WithMessage(message string) StreamEvent {
	e.Message = message
	return e
}

// WithContent sets the content payload.
func (e StreamEvent) WithContent(content string) StreamEvent {
	e.Content = content
	return e
}

// WithSessionId sets the session correlation ID.
func (e StreamEvent) WithSessionId(sessionID string) StreamEvent {
	e.SessionId = sessionID
	return e
}

// WithError sets the error payload.
func (e StreamEvent) WithError(errMsg string) StreamEvent {
	e.Error = errMsg
	return e
}

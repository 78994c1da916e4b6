// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request, response, and conversation data
// structures for the gateway service.
//
// This file contains the conversation model (turns and content blocks)
// plus the chat endpoint request/response types. Session and upload
// types are in session.go; SSE wire events are in sse.go.
package datatypes

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a typed user message.
	// Byte length, not rune count, to bound memory per request.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxOutputTokensCeiling bounds the client-requested output budget.
	MaxOutputTokensCeiling = 8192
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// gatewayValidate is the validator instance for gateway datatypes.
// Initialized in init() with custom validators.
var gatewayValidate *validator.Validate

func init() {
	gatewayValidate = validator.New()
	_ = gatewayValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks that a string field does not exceed
// MaxMessageContentBytes. Byte length is used to keep oversized
// multi-byte payloads out.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Conversation Model
// =============================================================================

// Role attributes a turn to one side of the conversation. History
// turns are only ever user or assistant; system instructions live on
// the session, not in history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of a content block within a turn.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
)

// ContentBlock is one ordered element of a turn's content.
//
// Text blocks carry only Text. Image blocks carry MediaType (MIME,
// e.g. "image/png") and Data (base64 without a data-URL prefix).
type ContentBlock struct {
	Type      BlockType `json:"type"`
	Text      string    `json:"text,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	Data      string    `json:"data,omitempty"`
}

// ErrEmptyTurn is returned by ChatTurn.Validate for a turn with no
// content blocks.
var ErrEmptyTurn = errors.New("chat turn has no content")

// ErrBadRole is returned by ChatTurn.Validate for a role outside the
// user/assistant pair.
var ErrBadRole = errors.New("chat turn role must be user or assistant")

// ChatTurn is one exchange unit in a conversation.
//
// # Description
//
// A turn is attributed to exactly one role and carries ordered content
// blocks. A plain-text turn has a single text block. Turns that fold
// in an image attachment have an image block followed by a text block.
//
// # Thread Safety
//
// ChatTurn is a value type; snapshots handed out by the session store
// are deep copies and safe to read concurrently.
type ChatTurn struct {
	Role   Role           `json:"role"`
	Blocks []ContentBlock `json:"blocks"`
}

// NewTextTurn builds a single-block plain text turn.
func NewTextTurn(role Role, text string) ChatTurn {
	return ChatTurn{
		Role:   role,
		Blocks: []ContentBlock{{Type: BlockText, Text: text}},
	}
}

// Validate enforces the turn invariants: a known role and non-empty
// content. At least one block must carry payload, so a turn whose only
// text block is blank is rejected just like a turn with no blocks.
func (t ChatTurn) Validate() error {
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return ErrBadRole
	}
	for _, b := range t.Blocks {
		switch b.Type {
		case BlockText:
			if b.Text != "" {
				return nil
			}
		case BlockImage:
			if b.Data != "" {
				return nil
			}
		}
	}
	return ErrEmptyTurn
}

// Text concatenates the turn's text blocks. Image blocks are skipped.
func (t ChatTurn) Text() string {
	var out string
	for _, b := range t.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// Clone returns a deep copy of the turn.
func (t ChatTurn) Clone() ChatTurn {
	blocks := make([]ContentBlock, len(t.Blocks))
	copy(blocks, t.Blocks)
	return ChatTurn{Role: t.Role, Blocks: blocks}
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatRequest is the body for POST /v1/chat and /v1/chat/stream.
//
// # Description
//
// Carries the user's typed input for the next turn. The session's
// pending attachment (if any) is folded into the turn server-side; the
// client never re-sends attachment bytes with a message.
//
// # Validation
//
//   - RequestID: optional; populated by EnsureDefaults (UUID v4).
//   - Message: required, at most 32KB.
//   - MaxTokens: optional override of the configured output budget,
//     bounded by MaxOutputTokensCeiling.
type ChatRequest struct {
	RequestID string `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp int64  `json:"timestamp" validate:"gte=0"`
	Message   string `json:"message" validate:"required,maxbytes"`
	MaxTokens int    `json:"max_tokens" validate:"gte=0,lte=8192"`
}

// Validate validates the ChatRequest fields after JSON binding.
func (r *ChatRequest) Validate() error {
	return gatewayValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp if the client did
// not supply them.
func (r *ChatRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// =============================================================================
// Chat Response Types
// =============================================================================

// ChatResponse is the non-streaming chat result.
type ChatResponse struct {
	ResponseID       string `json:"response_id"`
	RequestID        string `json:"request_id"`
	Timestamp        int64  `json:"timestamp"`
	Answer           string `json:"answer"`
	AnswerHash       string `json:"answer_hash,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms,omitempty"`
}

// NewChatResponse creates a ChatResponse with generated ID and
// timestamp, echoing the request ID for correlation.
func NewChatResponse(requestID, answer string) *ChatResponse {
	return &ChatResponse{
		ResponseID: uuid.New().String(),
		RequestID:  requestID,
		Timestamp:  time.Now().UnixMilli(),
		Answer:     answer,
	}
}

// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Session Types
// =============================================================================

// SessionResponse describes a session to the client.
type SessionResponse struct {
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	Authenticated bool      `json:"authenticated"`
}

// LoginRequest is the body for POST /v1/login. The secret is compared
// server-side in constant time and is never echoed or logged.
type LoginRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid4"`
	Secret    string `json:"secret" validate:"required"`
}

// Validate validates the LoginRequest fields after JSON binding.
func (r *LoginRequest) Validate() error {
	return gatewayValidate.Struct(r)
}

// InstructionRequest is the body for PUT /v1/sessions/:id/instruction.
type InstructionRequest struct {
	Instruction string `json:"instruction" validate:"required,maxbytes"`
}

// Validate validates the InstructionRequest fields.
func (r *InstructionRequest) Validate() error {
	return gatewayValidate.Struct(r)
}

// HistoryResponse is a read-only snapshot of a session's conversation.
type HistoryResponse struct {
	SessionID string     `json:"session_id"`
	Turns     []ChatTurn `json:"turns"`
}

// FilesResponse lists the names recorded by the upload dedup guard.
type FilesResponse struct {
	SessionID string   `json:"session_id"`
	Files     []string `json:"files"`
}

// =============================================================================
// Upload Types
// =============================================================================

// UploadStatus classifies the outcome for one file in an upload batch.
type UploadStatus string

const (
	// UploadAttached means the file was normalized and staged for the
	// next user turn.
	UploadAttached UploadStatus = "attached"

	// UploadDuplicate means a file with the same name was already
	// recorded for this session; the file was skipped.
	UploadDuplicate UploadStatus = "duplicate"

	// UploadUnsupported means the file suffix matched no handler; the
	// file was skipped and the batch continued.
	UploadUnsupported UploadStatus = "unsupported"

	// UploadEmpty means document extraction recovered no text; the
	// notice is informational, nothing was staged.
	UploadEmpty UploadStatus = "empty"

	// UploadTooLarge means the file exceeds the per-file size cap;
	// nothing was staged and the name was not recorded.
	UploadTooLarge UploadStatus = "too_large"
)

// UploadResult reports the outcome for a single file.
type UploadResult struct {
	FileName string       `json:"file_name"`
	Kind     string       `json:"kind"`
	Status   UploadStatus `json:"status"`
	Detail   string       `json:"detail,omitempty"`
}

// UploadResponse reports per-file outcomes for a whole batch. A batch
// never fails as a unit; unsupported or duplicate files yield notices
// while the rest proceed.
type UploadResponse struct {
	SessionID string         `json:"session_id"`
	Results   []UploadResult `json:"results"`
}

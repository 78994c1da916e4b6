// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session holds per-conversation state: history, the pending
// upload batch, the active system instruction, and the login flag.
//
// State is an explicit session object handed to each operation, never
// process-wide globals. A session is exclusive to one conversation;
// the internal mutex only guards against the HTTP layer touching the
// same session from overlapping requests.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
)

// DefaultSystemInstruction is the standing directive a fresh or reset
// session starts with.
const DefaultSystemInstruction = "You are a helpful assistant helping the user answer questions and analyze files."

// ErrStreamInFlight is returned when a chat request arrives while the
// session already has a streaming request open.
var ErrStreamInFlight = errors.New("a streaming request is already in flight for this session")

// =============================================================================
// Pending Attachments
// =============================================================================

// AttachmentKind classifies the pending upload payload.
type AttachmentKind int

const (
	AttachmentTextLike AttachmentKind = iota
	AttachmentImage
)

func (k AttachmentKind) String() string {
	if k == AttachmentImage {
		return "image"
	}
	return "text-like"
}

// PendingAttachment is the one outstanding upload batch awaiting
// inclusion in the next user turn.
//
// For text-like attachments Content holds extracted text; successive
// document uploads before the next message merge by concatenation.
// For images Content holds base64 data and MediaType the MIME type; a
// new image replaces the previous pending payload entirely.
type PendingAttachment struct {
	Kind       AttachmentKind
	Content    string
	MediaType  string
	SourceType string
}

// =============================================================================
// Session
// =============================================================================

// Session is the mutable state of one conversation.
type Session struct {
	id        string
	createdAt time.Time

	mu                 sync.Mutex
	authenticated      bool
	history            []datatypes.ChatTurn
	pending            *PendingAttachment
	instruction        string
	defaultInstruction string
	uploadedFiles      map[string]struct{}
	streaming          bool
}

func newSession(id, defaultInstruction string) *Session {
	if defaultInstruction == "" {
		defaultInstruction = DefaultSystemInstruction
	}
	return &Session{
		id:                 id,
		createdAt:          time.Now().UTC(),
		instruction:        defaultInstruction,
		defaultInstruction: defaultInstruction,
		uploadedFiles:      make(map[string]struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time (UTC).
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Authenticated reports whether the access gate has admitted this
// session.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// SetAuthenticated records the access gate outcome.
func (s *Session) SetAuthenticated(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = ok
}

// Reset clears history, the pending attachment, and the uploaded-file
// set, and restores the default system instruction. The login flag is
// untouched; resetting a conversation does not log the user out.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.pending = nil
	s.instruction = s.defaultInstruction
	s.uploadedFiles = make(map[string]struct{})
}

// SystemInstruction returns the active standing directive.
func (s *Session) SystemInstruction() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instruction
}

// SetSystemInstruction replaces the standing directive for the rest of
// the conversation.
func (s *Session) SetSystemInstruction(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruction = text
}

// RecordUploadedFile adds a file name to the dedup guard. Returns
// false without changing anything if the name is already recorded.
func (s *Session) RecordUploadedFile(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uploadedFiles[name]; ok {
		return false
	}
	s.uploadedFiles[name] = struct{}{}
	return true
}

// FileNames returns a sorted snapshot of the recorded file names.
func (s *Session) FileNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.uploadedFiles))
	for name := range s.uploadedFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StageText merges extracted document text into the pending
// attachment. If an image is currently pending it is replaced.
func (s *Session) StageText(text, sourceType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil && s.pending.Kind == AttachmentTextLike {
		s.pending.Content += text
		return
	}
	s.pending = &PendingAttachment{
		Kind:       AttachmentTextLike,
		Content:    text,
		SourceType: sourceType,
	}
}

// StageImage stages an encoded image as the pending attachment,
// replacing any previous pending payload.
func (s *Session) StageImage(mediaType, data, sourceType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &PendingAttachment{
		Kind:       AttachmentImage,
		Content:    data,
		MediaType:  mediaType,
		SourceType: sourceType,
	}
}

// PeekPendingAttachment returns a copy of the pending attachment
// without consuming it, or nil when nothing is staged. The coordinator
// peeks while composing and clears only at finalization, so a failed
// stream never eats an upload.
func (s *Session) PeekPendingAttachment() *PendingAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	att := *s.pending
	return &att
}

// ClearPendingAttachment drops the staged attachment.
func (s *Session) ClearPendingAttachment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// PendingKind reports the staged attachment kind, or ("", false) when
// nothing is staged.
func (s *Session) PendingKind() (AttachmentKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return 0, false
	}
	return s.pending.Kind, true
}

// AppendExchange appends a completed user/assistant pair to history as
// one atomic operation. Either both turns land or neither does, so a
// failed stream can never leave a dangling user turn.
func (s *Session) AppendExchange(user, assistant datatypes.ChatTurn) error {
	if err := user.Validate(); err != nil {
		return err
	}
	if err := assistant.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, user, assistant)
	return nil
}

// HistorySnapshot returns a deep copy of the conversation, never the
// internal slice.
func (s *Session) HistorySnapshot() []datatypes.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]datatypes.ChatTurn, len(s.history))
	for i, t := range s.history {
		turns[i] = t.Clone()
	}
	return turns
}

// HistoryLen returns the number of turns in history.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// TryBeginStream marks a streaming request in flight. Returns
// ErrStreamInFlight if one is already open; at most one streamed
// request may run per session.
func (s *Session) TryBeginStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return ErrStreamInFlight
	}
	s.streaming = true
	return nil
}

// EndStream releases the in-flight marker.
func (s *Session) EndStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
}

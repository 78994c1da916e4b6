// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm defines the provider-neutral chat surface used by the
// gateway, plus concrete clients for the Anthropic and OpenAI APIs.
//
// Messages are multimodal: each message carries ordered content parts,
// where a part is either text or a base64-encoded image. Providers map
// these parts onto their own wire formats.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// =============================================================================
// Messages
// =============================================================================

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one ordered element of a message.
//
// For PartText only Text is set. For PartImage, MediaType holds the
// MIME type (e.g. "image/jpeg") and Data holds the base64-encoded
// bytes without any data-URL prefix.
type ContentPart struct {
	Type      PartType `json:"type"`
	Text      string   `json:"text,omitempty"`
	MediaType string   `json:"media_type,omitempty"`
	Data      string   `json:"data,omitempty"`
}

// TextPart is a convenience constructor for a text-only part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart is a convenience constructor for a base64 image part.
func ImagePart(mediaType, data string) ContentPart {
	return ContentPart{Type: PartImage, MediaType: mediaType, Data: data}
}

// Message is one turn of a conversation as sent to a provider.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{TextPart(text)}}
}

// Text concatenates the text parts of the message. Image parts are
// skipped.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// =============================================================================
// Generation parameters
// =============================================================================

// GenerationParams carries optional sampling controls. Nil pointer
// fields mean "use the provider default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// =============================================================================
// Streaming
// =============================================================================

// StreamEventType enumerates the events a streaming client emits.
type StreamEventType string

const (
	StreamEventToken StreamEventType = "token"
	StreamEventDone  StreamEventType = "done"
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one incremental event from a streaming generation.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in arrival order. Returning a
// non-nil error aborts the stream.
type StreamCallback func(StreamEvent) error

// =============================================================================
// Client interface
// =============================================================================

// LLMClient is the standard interface for any chat backend.
//
// ChatStream delivers StreamEventToken events strictly in the order the
// provider produced them, followed by exactly one StreamEventDone on
// success. A transport or provider failure is returned as an error; the
// callback never sees tokens after an error return.
type LLMClient interface {
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error
}

// =============================================================================
// Factory
// =============================================================================

// NewClient constructs a client for the named backend ("anthropic" or
// "openai"). Model may be empty to use the backend default.
func NewClient(backend, model string) (LLMClient, error) {
	switch strings.ToLower(backend) {
	case "", "anthropic":
		return NewAnthropicClient(model)
	case "openai":
		return NewOpenAIClient(model)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", backend)
	}
}

// resolveAPIKey reads a credential from the environment, falling back
// to the conventional container secret path.
func resolveAPIKey(envVar, secretPath string) (string, error) {
	if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
		return key, nil
	}
	if data, err := os.ReadFile(secretPath); err == nil {
		if key := strings.TrimSpace(string(data)); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("no API key: set %s or provide %s", envVar, secretPath)
}

// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation drives one chat exchange: it assembles the next
// user turn from typed input plus any pending attachment, streams the
// model response through an explicit accumulator, and appends the
// completed exchange to session history atomically.
package conversation

import (
	"errors"
	"fmt"

	"github.com/coastlineai/skiff/services/extract"
	"github.com/coastlineai/skiff/services/gateway/datatypes"
	"github.com/coastlineai/skiff/services/gateway/session"
	"github.com/coastlineai/skiff/services/llm"
)

// TextAttachmentPrefix is prepended verbatim to extracted document
// text when folding a text-like attachment into a user turn. The turn
// text is prefix + extracted text + typed input, with no separators.
const TextAttachmentPrefix = "I have uploaded text content; help me answer questions about it: "

// ErrValidation wraps turn-construction failures (unsupported image
// type, empty content). Turns that fail validation are never added to
// history.
var ErrValidation = errors.New("validation failed")

// =============================================================================
// Turn Assembly
// =============================================================================

// BuildUserTurn produces the ChatTurn for the user's next
// contribution, folding in the pending attachment when present.
//
// # Description
//
//   - No attachment: a plain text turn with the typed input.
//   - Text-like attachment: a single text block of
//     TextAttachmentPrefix + extracted text + typed input.
//   - Image attachment: an image block followed by a text block with
//     the typed input.
//
// # Outputs
//
//   - datatypes.ChatTurn: the assembled turn.
//   - error: wraps ErrValidation when the attachment's declared file
//     type is unsupported or the result would be an invalid turn.
func BuildUserTurn(typed string, att *session.PendingAttachment) (datatypes.ChatTurn, error) {
	if att == nil {
		turn := datatypes.NewTextTurn(datatypes.RoleUser, typed)
		if err := turn.Validate(); err != nil {
			return datatypes.ChatTurn{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return turn, nil
	}

	switch att.Kind {
	case session.AttachmentTextLike:
		turn := datatypes.NewTextTurn(datatypes.RoleUser, TextAttachmentPrefix+att.Content+typed)
		if err := turn.Validate(); err != nil {
			return datatypes.ChatTurn{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return turn, nil

	case session.AttachmentImage:
		mediaType, err := extract.MediaTypeForExt(att.SourceType)
		if err != nil {
			return datatypes.ChatTurn{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		turn := datatypes.ChatTurn{
			Role: datatypes.RoleUser,
			Blocks: []datatypes.ContentBlock{
				{Type: datatypes.BlockImage, MediaType: mediaType, Data: att.Content},
				{Type: datatypes.BlockText, Text: typed},
			},
		}
		if err := turn.Validate(); err != nil {
			return datatypes.ChatTurn{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return turn, nil

	default:
		return datatypes.ChatTurn{}, fmt.Errorf("%w: unknown attachment kind %d", ErrValidation, att.Kind)
	}
}

// =============================================================================
// Provider Payload
// =============================================================================

// ToProviderMessages converts history plus the system instruction into
// the provider-bound message list. The instruction becomes a leading
// system message; each history turn maps its blocks onto content parts
// in order.
func ToProviderMessages(instruction string, history []datatypes.ChatTurn) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	if instruction != "" {
		messages = append(messages, llm.TextMessage(llm.RoleSystem, instruction))
	}
	for _, turn := range history {
		messages = append(messages, toProviderMessage(turn))
	}
	return messages
}

func toProviderMessage(turn datatypes.ChatTurn) llm.Message {
	role := llm.RoleUser
	if turn.Role == datatypes.RoleAssistant {
		role = llm.RoleAssistant
	}

	parts := make([]llm.ContentPart, 0, len(turn.Blocks))
	for _, b := range turn.Blocks {
		switch b.Type {
		case datatypes.BlockText:
			parts = append(parts, llm.TextPart(b.Text))
		case datatypes.BlockImage:
			parts = append(parts, llm.ImagePart(b.MediaType, b.Data))
		}
	}
	return llm.Message{Role: role, Parts: parts}
}

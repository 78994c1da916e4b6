// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
	"github.com/coastlineai/skiff/services/gateway/session"
	"github.com/coastlineai/skiff/services/llm"
)

func TestBuildUserTurn_NoAttachment(t *testing.T) {
	turn, err := BuildUserTurn("hello", nil)
	require.NoError(t, err)

	assert.Equal(t, datatypes.RoleUser, turn.Role)
	require.Len(t, turn.Blocks, 1)
	assert.Equal(t, "hello", turn.Blocks[0].Text)
}

func TestBuildUserTurn_EmptyTypedNoAttachment(t *testing.T) {
	_, err := BuildUserTurn("", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBuildUserTurn_TextAttachment_ExactConcatenation(t *testing.T) {
	att := &session.PendingAttachment{
		Kind:       session.AttachmentTextLike,
		Content:    "Q1 revenue was $5M.",
		SourceType: "txt",
	}
	turn, err := BuildUserTurn("Summarize this.", att)
	require.NoError(t, err)

	require.Len(t, turn.Blocks, 1)
	assert.Equal(t,
		"I have uploaded text content; help me answer questions about it: Q1 revenue was $5M.Summarize this.",
		turn.Blocks[0].Text,
	)
}

func TestBuildUserTurn_ImageAttachment_BlockOrder(t *testing.T) {
	att := &session.PendingAttachment{
		Kind:       session.AttachmentImage,
		Content:    "Zm9v",
		SourceType: "png",
	}
	turn, err := BuildUserTurn("what is this?", att)
	require.NoError(t, err)

	require.Len(t, turn.Blocks, 2)
	assert.Equal(t, datatypes.BlockImage, turn.Blocks[0].Type)
	assert.Equal(t, "image/png", turn.Blocks[0].MediaType)
	assert.Equal(t, "Zm9v", turn.Blocks[0].Data)
	assert.Equal(t, datatypes.BlockText, turn.Blocks[1].Type)
	assert.Equal(t, "what is this?", turn.Blocks[1].Text)
}

func TestBuildUserTurn_ImageAttachment_NormalizesJpg(t *testing.T) {
	att := &session.PendingAttachment{
		Kind:       session.AttachmentImage,
		Content:    "Zm9v",
		SourceType: "jpg",
	}
	turn, err := BuildUserTurn("?", att)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", turn.Blocks[0].MediaType)
}

func TestBuildUserTurn_UnsupportedImageType(t *testing.T) {
	att := &session.PendingAttachment{
		Kind:       session.AttachmentImage,
		Content:    "Zm9v",
		SourceType: "bmp",
	}
	_, err := BuildUserTurn("?", att)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestToProviderMessages_SystemFirst(t *testing.T) {
	history := []datatypes.ChatTurn{
		datatypes.NewTextTurn(datatypes.RoleUser, "q"),
		datatypes.NewTextTurn(datatypes.RoleAssistant, "a"),
	}
	messages := ToProviderMessages("be brief", history)

	require.Len(t, messages, 3)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, "be brief", messages[0].Text())
	assert.Equal(t, llm.RoleUser, messages[1].Role)
	assert.Equal(t, llm.RoleAssistant, messages[2].Role)
}

func TestToProviderMessages_EmptyInstructionOmitted(t *testing.T) {
	messages := ToProviderMessages("", []datatypes.ChatTurn{
		datatypes.NewTextTurn(datatypes.RoleUser, "q"),
	})
	require.Len(t, messages, 1)
	assert.Equal(t, llm.RoleUser, messages[0].Role)
}

func TestToProviderMessages_MapsImageBlocks(t *testing.T) {
	turn := datatypes.ChatTurn{
		Role: datatypes.RoleUser,
		Blocks: []datatypes.ContentBlock{
			{Type: datatypes.BlockImage, MediaType: "image/webp", Data: "QUJD"},
			{Type: datatypes.BlockText, Text: "describe"},
		},
	}
	messages := ToProviderMessages("", []datatypes.ChatTurn{turn})

	require.Len(t, messages, 1)
	require.Len(t, messages[0].Parts, 2)
	assert.Equal(t, llm.PartImage, messages[0].Parts[0].Type)
	assert.Equal(t, "image/webp", messages[0].Parts[0].MediaType)
	assert.Equal(t, llm.PartText, messages[0].Parts[1].Type)
}

func TestProgressView_AppendsCursor(t *testing.T) {
	assert.Equal(t, "partial"+CursorMarker, ProgressView("partial"))
}

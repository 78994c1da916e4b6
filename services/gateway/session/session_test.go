// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
)

func newTestSession() *Session {
	return NewStore("").Create()
}

func TestSession_Defaults(t *testing.T) {
	s := newTestSession()

	assert.NotEmpty(t, s.ID())
	assert.False(t, s.Authenticated())
	assert.Equal(t, DefaultSystemInstruction, s.SystemInstruction())
	assert.Equal(t, 0, s.HistoryLen())
	assert.Empty(t, s.FileNames())
	_, staged := s.PendingKind()
	assert.False(t, staged)
}

func TestSession_RecordUploadedFile_Idempotent(t *testing.T) {
	s := newTestSession()

	assert.True(t, s.RecordUploadedFile("report.pdf"))
	assert.False(t, s.RecordUploadedFile("report.pdf"))
	assert.Equal(t, []string{"report.pdf"}, s.FileNames())
}

func TestSession_Reset_RestoresDefaults(t *testing.T) {
	s := newTestSession()
	s.SetSystemInstruction("be a pirate")
	s.RecordUploadedFile("a.txt")
	s.StageText("some text", "txt")
	require.NoError(t, s.AppendExchange(
		datatypes.NewTextTurn(datatypes.RoleUser, "q"),
		datatypes.NewTextTurn(datatypes.RoleAssistant, "a"),
	))
	s.SetAuthenticated(true)

	s.Reset()

	assert.Equal(t, 0, s.HistoryLen())
	assert.Empty(t, s.FileNames())
	assert.Equal(t, DefaultSystemInstruction, s.SystemInstruction())
	_, staged := s.PendingKind()
	assert.False(t, staged)
	assert.True(t, s.Authenticated(), "reset does not log the user out")
}

func TestSession_StageText_MergesByConcatenation(t *testing.T) {
	s := newTestSession()
	s.StageText("first.", "txt")
	s.StageText("second.", "pdf")

	att := s.PeekPendingAttachment()
	require.NotNil(t, att)
	assert.Equal(t, AttachmentTextLike, att.Kind)
	assert.Equal(t, "first.second.", att.Content)
}

func TestSession_StageImage_ReplacesPending(t *testing.T) {
	s := newTestSession()
	s.StageText("doc text", "txt")
	s.StageImage("image/png", "Zm9v", "png")

	att := s.PeekPendingAttachment()
	require.NotNil(t, att)
	assert.Equal(t, AttachmentImage, att.Kind)
	assert.Equal(t, "Zm9v", att.Content)
	assert.Equal(t, "image/png", att.MediaType)
}

func TestSession_PeekPendingAttachment_DoesNotConsume(t *testing.T) {
	s := newTestSession()
	s.StageText("x", "txt")

	require.NotNil(t, s.PeekPendingAttachment())
	require.NotNil(t, s.PeekPendingAttachment())

	s.ClearPendingAttachment()
	assert.Nil(t, s.PeekPendingAttachment())
}

func TestSession_AppendExchange_Atomic(t *testing.T) {
	s := newTestSession()

	err := s.AppendExchange(
		datatypes.NewTextTurn(datatypes.RoleUser, "q"),
		datatypes.ChatTurn{Role: datatypes.RoleAssistant},
	)
	require.Error(t, err)
	assert.Equal(t, 0, s.HistoryLen(), "no partial append on invalid assistant turn")

	require.NoError(t, s.AppendExchange(
		datatypes.NewTextTurn(datatypes.RoleUser, "q"),
		datatypes.NewTextTurn(datatypes.RoleAssistant, "a"),
	))
	assert.Equal(t, 2, s.HistoryLen())
}

func TestSession_HistorySnapshot_IsDeepCopy(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.AppendExchange(
		datatypes.NewTextTurn(datatypes.RoleUser, "q"),
		datatypes.NewTextTurn(datatypes.RoleAssistant, "a"),
	))

	snap := s.HistorySnapshot()
	snap[0].Blocks[0].Text = "mutated"

	assert.Equal(t, "q", s.HistorySnapshot()[0].Blocks[0].Text)
}

func TestSession_TryBeginStream_SingleFlight(t *testing.T) {
	s := newTestSession()

	require.NoError(t, s.TryBeginStream())
	assert.ErrorIs(t, s.TryBeginStream(), ErrStreamInFlight)

	s.EndStream()
	assert.NoError(t, s.TryBeginStream())
}

func TestStore_CreateGetDelete(t *testing.T) {
	st := NewStore("custom default")
	s := st.Create()

	got, ok := st.Get(s.ID())
	require.True(t, ok)
	assert.Equal(t, "custom default", got.SystemInstruction())
	assert.Equal(t, 1, st.Count())

	assert.True(t, st.Delete(s.ID()))
	assert.False(t, st.Delete(s.ID()))
	_, ok = st.Get(s.ID())
	assert.False(t, ok)
}

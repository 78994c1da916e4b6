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
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
)

// parseSSEEvents splits a raw SSE body into (eventType, data) pairs,
// skipping comment lines.
func parseSSEEvents(t *testing.T, body string) []datatypes.StreamEvent {
	t.Helper()

	var events []datatypes.StreamEvent
	for _, block := range strings.Split(body, "\n\n") {
		var data string
		for _, line := range strings.Split(block, "\n") {
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
			}
		}
		if data == "" {
			continue
		}
		var ev datatypes.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		events = append(events, ev)
	}
	return events
}

// nonFlushingWriter wraps a ResponseWriter to hide the Flusher
// interface.
type nonFlushingWriter struct {
	http.ResponseWriter
}

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	rec := httptest.NewRecorder()
	_, err := NewSSEWriter(&nonFlushingWriter{rec})
	assert.Error(t, err)
}

func TestSSEWriter_EventFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteToken("hello"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: token\n"))
	assert.Contains(t, body, "data: {")
	assert.True(t, strings.HasSuffix(body, "\n\n"))

	events := parseSSEEvents(t, body)
	require.Len(t, events, 1)
	assert.Equal(t, "token", events[0].Type)
	assert.Equal(t, "hello", events[0].Content)
	assert.NotEmpty(t, events[0].Id)
	assert.NotZero(t, events[0].CreatedAt)
}

func TestSSEWriter_HashChainLinks(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteStatus("Thinking..."))
	require.NoError(t, writer.WriteToken("a"))
	require.NoError(t, writer.WriteToken("b"))
	require.NoError(t, writer.WriteDone("sess-1", "ab"))

	events := parseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 4)

	assert.Empty(t, events[0].PrevHash, "first event starts the chain")
	for i, ev := range events {
		if i > 0 {
			assert.Equal(t, events[i-1].Hash, ev.PrevHash, "event %d must chain to predecessor", i)
		}
		input := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s",
			ev.Id, ev.Type, ev.CreatedAt, ev.PrevHash,
			ev.Content, ev.Message, ev.Error, ev.SessionId)
		sum := sha256.Sum256([]byte(input))
		assert.Equal(t, hex.EncodeToString(sum[:]), ev.Hash, "event %d hash must cover all fields", i)
	}
}

func TestSSEWriter_DoneCarriesCompleteContent(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteDone("sess-7", "the full answer"))

	events := parseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "done", events[0].Type)
	assert.Equal(t, "sess-7", events[0].SessionId)
	assert.Equal(t, "the full answer", events[0].Content)
}

func TestSSEWriter_KeepAliveOutsideChain(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteToken("a"))
	require.NoError(t, writer.WriteKeepAlive())
	require.NoError(t, writer.WriteToken("b"))

	body := rec.Body.String()
	assert.Contains(t, body, ": ping\n\n")

	events := parseSSEEvents(t, body)
	require.Len(t, events, 2, "keepalive must not appear as a data event")
	assert.Equal(t, events[0].Hash, events[1].PrevHash, "keepalive must not break the chain")
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
	"github.com/coastlineai/skiff/services/gateway/middleware"
	"github.com/coastlineai/skiff/services/gateway/session"
)

type sessionTestEnv struct {
	router *gin.Engine
	store  *session.Store
}

func newSessionTestEnv(t *testing.T) *sessionTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := session.NewStore(session.DefaultSystemInstruction)
	handler := NewSessionHandler(store)

	router := gin.New()
	router.POST("/v1/sessions", handler.HandleCreate)
	scoped := router.Group("/v1/sessions/:sessionId", middleware.SessionResolve(store))
	scoped.DELETE("", handler.HandleDelete)
	authed := scoped.Group("", middleware.RequireAuthenticated())
	authed.POST("/reset", handler.HandleReset)
	authed.GET("/history", handler.HandleHistory)
	authed.GET("/files", handler.HandleFiles)
	authed.PUT("/instruction", handler.HandleSetInstruction)

	return &sessionTestEnv{router: router, store: store}
}

func (e *sessionTestEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestNewSessionHandler_PanicsOnNilStore(t *testing.T) {
	assert.Panics(t, func() { NewSessionHandler(nil) })
}

func TestHandleCreate_ReturnsNewSession(t *testing.T) {
	env := newSessionTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp datatypes.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.False(t, resp.Authenticated)

	_, found := env.store.Get(resp.SessionID)
	assert.True(t, found)
}

func TestHandleDelete_RemovesSession(t *testing.T) {
	env := newSessionTestEnv(t)
	sess := env.store.Create()

	rec := env.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, found := env.store.Get(sess.ID())
	assert.False(t, found)
}

func TestHandleDelete_UnknownSession(t *testing.T) {
	env := newSessionTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReset_ClearsStateKeepsLogin(t *testing.T) {
	env := newSessionTestEnv(t)
	sess := env.store.Create()
	sess.SetAuthenticated(true)
	sess.SetSystemInstruction("be terse")
	sess.RecordUploadedFile("notes.txt")
	sess.StageText("content", "txt")

	rec := env.do(t, http.MethodPost, "/v1/sessions/"+sess.ID()+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, sess.Authenticated())
	assert.Equal(t, session.DefaultSystemInstruction, sess.SystemInstruction())
	assert.Empty(t, sess.FileNames())
	assert.Nil(t, sess.PeekPendingAttachment())
}

func TestHandleHistory_ReturnsCommittedTurns(t *testing.T) {
	env := newSessionTestEnv(t)
	sess := env.store.Create()
	sess.SetAuthenticated(true)
	require.NoError(t, sess.AppendExchange(
		datatypes.NewTextTurn(datatypes.RoleUser, "q"),
		datatypes.NewTextTurn(datatypes.RoleAssistant, "a"),
	))

	rec := env.do(t, http.MethodGet, "/v1/sessions/"+sess.ID()+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp datatypes.HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, sess.ID(), resp.SessionID)
	require.Len(t, resp.Turns, 2)
	assert.Equal(t, "q", resp.Turns[0].Text())
	assert.Equal(t, "a", resp.Turns[1].Text())
}

func TestHandleFiles_ReturnsSortedNames(t *testing.T) {
	env := newSessionTestEnv(t)
	sess := env.store.Create()
	sess.SetAuthenticated(true)
	sess.RecordUploadedFile("zeta.txt")
	sess.RecordUploadedFile("alpha.pdf")

	rec := env.do(t, http.MethodGet, "/v1/sessions/"+sess.ID()+"/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp datatypes.FilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"alpha.pdf", "zeta.txt"}, resp.Files)
}

func TestHandleSetInstruction_Replaces(t *testing.T) {
	env := newSessionTestEnv(t)
	sess := env.store.Create()
	sess.SetAuthenticated(true)

	rec := env.do(t, http.MethodPut, "/v1/sessions/"+sess.ID()+"/instruction",
		datatypes.InstructionRequest{Instruction: "answer in French"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "answer in French", sess.SystemInstruction())
}

func TestHandleSetInstruction_RejectsEmpty(t *testing.T) {
	env := newSessionTestEnv(t)
	sess := env.store.Create()
	sess.SetAuthenticated(true)

	rec := env.do(t, http.MethodPut, "/v1/sessions/"+sess.ID()+"/instruction",
		datatypes.InstructionRequest{Instruction: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionEndpoints_RequireAuthentication(t *testing.T) {
	env := newSessionTestEnv(t)
	sess := env.store.Create()

	rec := env.do(t, http.MethodGet, "/v1/sessions/"+sess.ID()+"/history", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

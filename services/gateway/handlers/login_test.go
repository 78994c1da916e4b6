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
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
	"github.com/coastlineai/skiff/services/gateway/gate"
	"github.com/coastlineai/skiff/services/gateway/session"
)

const testSecret = "correct horse battery staple"

type loginTestEnv struct {
	router *gin.Engine
	store  *session.Store
	sess   *session.Session
}

func newLoginTestEnv(t *testing.T) *loginTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g, err := gate.New(testSecret)
	require.NoError(t, err)

	store := session.NewStore(session.DefaultSystemInstruction)
	sess := store.Create()

	handler := NewLoginHandler(g, store)
	router := gin.New()
	router.POST("/v1/login", handler.HandleLogin)

	return &loginTestEnv{router: router, store: store, sess: sess}
}

func (e *loginTestEnv) login(t *testing.T, sessionID, secret string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(datatypes.LoginRequest{SessionID: sessionID, Secret: secret})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestNewLoginHandler_PanicsOnNilDeps(t *testing.T) {
	g, err := gate.New(testSecret)
	require.NoError(t, err)
	store := session.NewStore("")

	assert.Panics(t, func() { NewLoginHandler(nil, store) })
	assert.Panics(t, func() { NewLoginHandler(g, nil) })
}

func TestHandleLogin_Success(t *testing.T) {
	env := newLoginTestEnv(t)

	rec := env.login(t, env.sess.ID(), testSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp datatypes.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, env.sess.ID(), resp.SessionID)
	assert.True(t, resp.Authenticated)
	assert.True(t, env.sess.Authenticated())
}

func TestHandleLogin_WrongSecret(t *testing.T) {
	env := newLoginTestEnv(t)

	rec := env.login(t, env.sess.ID(), "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.sess.Authenticated())
	assert.NotContains(t, rec.Body.String(), testSecret)
}

func TestHandleLogin_UnknownSessionSameBodyAsWrongSecret(t *testing.T) {
	env := newLoginTestEnv(t)

	wrongSecret := env.login(t, env.sess.ID(), "wrong")
	env2 := newLoginTestEnv(t)
	unknownSession := env2.login(t, "11111111-2222-4333-8444-555555555555", testSecret)

	assert.Equal(t, http.StatusUnauthorized, wrongSecret.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownSession.Code)
	assert.JSONEq(t, wrongSecret.Body.String(), unknownSession.Body.String(),
		"failure responses must not reveal which check failed")
}

func TestHandleLogin_RateLimited(t *testing.T) {
	env := newLoginTestEnv(t)

	var sawTooMany bool
	for i := 0; i < gate.DefaultAttemptsPerSecond*3; i++ {
		rec := env.login(t, env.sess.ID(), "wrong")
		if rec.Code == http.StatusTooManyRequests {
			sawTooMany = true
			break
		}
	}
	assert.True(t, sawTooMany, "burst of attempts should trip the limiter")
}

func TestHandleLogin_InvalidBody(t *testing.T) {
	env := newLoginTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/login", strings.NewReader("{oops"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLogin_MissingSecret(t *testing.T) {
	env := newLoginTestEnv(t)

	rec := env.login(t, env.sess.ID(), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

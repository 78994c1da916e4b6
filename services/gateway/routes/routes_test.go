// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastlineai/skiff/services/gateway/conversation"
	"github.com/coastlineai/skiff/services/gateway/gate"
	"github.com/coastlineai/skiff/services/gateway/session"
	"github.com/coastlineai/skiff/services/llm"
)

type noopLLM struct{}

func (noopLLM) Chat(context.Context, []llm.Message, llm.GenerationParams) (string, error) {
	return "", nil
}

func (noopLLM) ChatStream(ctx context.Context, msgs []llm.Message, params llm.GenerationParams, cb llm.StreamCallback) error {
	return cb(llm.StreamEvent{Type: llm.StreamEventDone})
}

func newTestRouter(t *testing.T) (*gin.Engine, *session.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g, err := gate.New("secret")
	require.NoError(t, err)

	store := session.NewStore(session.DefaultSystemInstruction)
	router := gin.New()
	SetupRoutes(router, Deps{
		Store:       store,
		Gate:        g,
		Coordinator: conversation.NewCoordinator(noopLLM{}, 2048),
	})
	return router, store
}

func TestSetupRoutes_HealthIsOpen(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"status\":\"ok\"")
}

func TestSetupRoutes_MetricsExposed(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetupRoutes_SessionCreationIsOpen(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSetupRoutes_ConversationRequiresGate(t *testing.T) {
	router, store := newTestRouter(t)
	sess := store.Create()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/sessions/"+sess.ID()+"/history", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sess.SetAuthenticated(true)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/sessions/"+sess.ID()+"/history", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetupRoutes_DeleteOnlyNeedsSession(t *testing.T) {
	router, store := newTestRouter(t)
	sess := store.Create()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete,
		"/v1/sessions/"+sess.ID(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

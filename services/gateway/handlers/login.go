// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
	"github.com/coastlineai/skiff/services/gateway/gate"
	"github.com/coastlineai/skiff/services/gateway/observability"
	"github.com/coastlineai/skiff/services/gateway/session"
)

// LoginHandler serves the shared-secret access gate.
type LoginHandler interface {
	// HandleLogin verifies the submitted secret and marks the session
	// authenticated on success.
	HandleLogin(c *gin.Context)
}

type loginHandler struct {
	gate   *gate.Gate
	store  *session.Store
	tracer trace.Tracer
}

var _ LoginHandler = (*loginHandler)(nil)

// NewLoginHandler creates a LoginHandler.
//
// # Description
//
// Constructs the handler serving POST /v1/login. Verification is
// delegated to the gate, which rate-limits attempts and compares in
// constant time.
//
// # Inputs
//
//   - g: Access gate. Must not be nil.
//   - store: Session store. Must not be nil.
//
// # Outputs
//
//   - LoginHandler: The configured handler.
func NewLoginHandler(g *gate.Gate, store *session.Store) LoginHandler {
	if g == nil {
		panic("NewLoginHandler: gate must not be nil")
	}
	if store == nil {
		panic("NewLoginHandler: store must not be nil")
	}
	return &loginHandler{
		gate:   g,
		store:  store,
		tracer: otel.Tracer("skiff/gateway/handlers"),
	}
}

// HandleLogin verifies the shared secret for a session.
//
// A wrong secret and an unknown session both produce HTTP 401 with the
// same generic body. Rate-limited attempts produce HTTP 429. The
// submitted secret is never logged.
func (h *loginHandler) HandleLogin(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "HandleLogin")
	defer span.End()

	var req datatypes.LoginRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointLogin, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointLogin, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	ok, err := h.gate.Verify(req.Secret)
	if err != nil {
		if errors.Is(err, gate.ErrRateLimited) {
			span.SetStatus(codes.Error, "rate limited")
			slog.Warn("Login attempt rate limited", "sessionId", req.SessionID)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordLoginAttempt("rate_limited")
				m.RecordError(observability.EndpointLogin, observability.ErrorCodeRateLimited)
			}
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts, try again later"})
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "gate failure")
		slog.Error("Gate verification failed", "error", err, "sessionId", req.SessionID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordLoginAttempt("error")
			m.RecordError(observability.EndpointLogin, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login unavailable"})
		return
	}

	sess, found := h.store.Get(req.SessionID)
	if !ok || !found {
		span.SetStatus(codes.Error, "denied")
		slog.Info("Login denied", "sessionId", req.SessionID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordLoginAttempt("denied")
			m.RecordError(observability.EndpointLogin, observability.ErrorCodeUnauthorized)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	sess.SetAuthenticated(true)
	span.SetStatus(codes.Ok, "authenticated")
	slog.Info("Login succeeded", "sessionId", sess.ID())
	if m := observability.DefaultMetrics; m != nil {
		m.RecordLoginAttempt("success")
		m.RecordRequest(observability.EndpointLogin, true)
	}
	c.JSON(http.StatusOK, datatypes.SessionResponse{
		SessionID:     sess.ID(),
		CreatedAt:     sess.CreatedAt(),
		Authenticated: true,
	})
}

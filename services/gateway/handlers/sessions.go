// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
	"github.com/coastlineai/skiff/services/gateway/middleware"
	"github.com/coastlineai/skiff/services/gateway/observability"
	"github.com/coastlineai/skiff/services/gateway/session"
)

// SessionHandler serves session lifecycle endpoints.
type SessionHandler interface {
	// HandleCreate creates a new, unauthenticated session.
	HandleCreate(c *gin.Context)

	// HandleDelete removes a session and all of its state.
	HandleDelete(c *gin.Context)

	// HandleReset clears a session's conversation state in place.
	HandleReset(c *gin.Context)

	// HandleHistory returns the session's committed exchange history.
	HandleHistory(c *gin.Context)

	// HandleFiles returns the names of files uploaded this session.
	HandleFiles(c *gin.Context)

	// HandleSetInstruction replaces the session's system instruction.
	HandleSetInstruction(c *gin.Context)
}

type sessionHandler struct {
	store  *session.Store
	tracer trace.Tracer
}

var _ SessionHandler = (*sessionHandler)(nil)

// NewSessionHandler creates a SessionHandler.
//
// # Inputs
//
//   - store: Session store. Must not be nil.
//
// # Outputs
//
//   - SessionHandler: The configured handler.
func NewSessionHandler(store *session.Store) SessionHandler {
	if store == nil {
		panic("NewSessionHandler: store must not be nil")
	}
	return &sessionHandler{
		store:  store,
		tracer: otel.Tracer("skiff/gateway/handlers"),
	}
}

// HandleCreate creates a new session and returns its identifier.
// The session starts unauthenticated; the client must pass the access
// gate before using conversational endpoints.
func (h *sessionHandler) HandleCreate(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "HandleCreateSession")
	defer span.End()

	sess := h.store.Create()
	span.SetAttributes(attribute.String("session.id", sess.ID()))
	span.SetStatus(codes.Ok, "created")
	slog.Info("Session created", "sessionId", sess.ID())
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(observability.EndpointSessions, true)
	}
	c.JSON(http.StatusCreated, datatypes.SessionResponse{
		SessionID:     sess.ID(),
		CreatedAt:     sess.CreatedAt(),
		Authenticated: false,
	})
}

// HandleDelete removes the session entirely. Deleting an unknown
// session is a 404 from the resolve middleware, never reached here.
func (h *sessionHandler) HandleDelete(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "HandleDeleteSession")
	defer span.End()

	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not resolved"})
		return
	}
	h.store.Delete(sess.ID())
	span.SetAttributes(attribute.String("session.id", sess.ID()))
	span.SetStatus(codes.Ok, "deleted")
	slog.Info("Session deleted", "sessionId", sess.ID())
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(observability.EndpointSessions, true)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": sess.ID()})
}

// HandleReset clears history, staged attachments, uploaded-file names,
// and the system instruction, restoring session defaults. The login
// state survives the reset.
func (h *sessionHandler) HandleReset(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "HandleResetSession")
	defer span.End()

	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not resolved"})
		return
	}
	sess.Reset()
	span.SetAttributes(attribute.String("session.id", sess.ID()))
	span.SetStatus(codes.Ok, "reset")
	slog.Info("Session reset", "sessionId", sess.ID())
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(observability.EndpointSessions, true)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "session_id": sess.ID()})
}

// HandleHistory returns the committed exchange history in order.
// Staged attachments and in-flight exchanges are not visible here.
func (h *sessionHandler) HandleHistory(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "HandleSessionHistory")
	defer span.End()

	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not resolved"})
		return
	}
	turns := sess.HistorySnapshot()
	span.SetAttributes(
		attribute.String("session.id", sess.ID()),
		attribute.Int("history.turns", len(turns)),
	)
	span.SetStatus(codes.Ok, "ok")
	c.JSON(http.StatusOK, datatypes.HistoryResponse{
		SessionID: sess.ID(),
		Turns:     turns,
	})
}

// HandleFiles lists the names of files uploaded during this session,
// sorted for stable display.
func (h *sessionHandler) HandleFiles(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "HandleSessionFiles")
	defer span.End()

	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not resolved"})
		return
	}
	span.SetAttributes(attribute.String("session.id", sess.ID()))
	span.SetStatus(codes.Ok, "ok")
	c.JSON(http.StatusOK, datatypes.FilesResponse{
		SessionID: sess.ID(),
		Files:     sess.FileNames(),
	})
}

// HandleSetInstruction replaces the session's system instruction for
// all subsequent exchanges. Committed history is unaffected.
func (h *sessionHandler) HandleSetInstruction(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "HandleSetInstruction")
	defer span.End()

	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not resolved"})
		return
	}
	span.SetAttributes(attribute.String("session.id", sess.ID()))

	var req datatypes.InstructionRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointSessions, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointSessions, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	sess.SetSystemInstruction(req.Instruction)
	span.SetStatus(codes.Ok, "updated")
	slog.Info("System instruction updated", "sessionId", sess.ID(), "bytes", len(req.Instruction))
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(observability.EndpointSessions, true)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "session_id": sess.ID()})
}

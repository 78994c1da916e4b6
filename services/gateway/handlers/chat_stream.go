// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coastlineai/skiff/services/gateway/conversation"
	"github.com/coastlineai/skiff/services/gateway/datatypes"
	"github.com/coastlineai/skiff/services/gateway/middleware"
	"github.com/coastlineai/skiff/services/gateway/observability"
	"github.com/coastlineai/skiff/services/gateway/session"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
	heartbeatInterval = 15 * time.Second
)

// =============================================================================
// Handler
// =============================================================================

// ChatHandler serves the conversational endpoints, both streaming and
// blocking.
type ChatHandler interface {
	// HandleChatStream streams the assistant's reply over SSE.
	HandleChatStream(c *gin.Context)

	// HandleChat returns the assistant's reply as a single JSON
	// response.
	HandleChat(c *gin.Context)
}

type chatHandler struct {
	coordinator *conversation.Coordinator
	tracer      trace.Tracer
}

var _ ChatHandler = (*chatHandler)(nil)

// NewChatHandler creates a ChatHandler.
//
// # Description
//
// Constructs the handler serving POST /v1/sessions/:sessionId/chat/stream
// and POST /v1/sessions/:sessionId/chat. The coordinator owns the
// exchange lifecycle; the handler owns HTTP parsing, SSE framing,
// heartbeats, and metrics.
//
// # Inputs
//
//   - coordinator: Conversation coordinator. Must not be nil.
//
// # Outputs
//
//   - ChatHandler: The configured handler.
//
// # Thread Safety
//
//   - Safe for concurrent use; per-session serialization is enforced
//     by the session itself.
func NewChatHandler(coordinator *conversation.Coordinator) ChatHandler {
	if coordinator == nil {
		panic("NewChatHandler: coordinator must not be nil")
	}
	return &chatHandler{
		coordinator: coordinator,
		tracer:      otel.Tracer("skiff/gateway/handlers"),
	}
}

// HandleChatStream streams an assistant reply over SSE.
//
// # Description
//
// Parses and validates the chat request, then runs a single exchange
// against the model, relaying each delta as a hash-chained token event.
// A status event is emitted before the first token, keepalive comments
// are written every heartbeatInterval, and the terminal done event
// carries the complete assembled reply. Failures after streaming has
// begun are reported as error events, not HTTP status codes.
//
// # SSE Format
//
//	event: status
//	data: {"type":"status","message":"Thinking...","id":"...","created_at":...}
//
//	event: token
//	data: {"type":"token","content":"Hello","id":"...","created_at":...}
//
//	event: done
//	data: {"type":"done","session_id":"...","content":"Hello world","id":"...","created_at":...}
//
// # Limitations
//
//   - One stream per session; an overlapping request gets an error
//     event on its own SSE channel.
//   - Internal error detail is logged, never sent to the client.
func (h *chatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not resolved"})
		return
	}
	span.SetAttributes(attribute.String("session.id", sess.ID()))

	req, ok := h.bindChatRequest(c, span, endpoint)
	if !ok {
		return
	}

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "streaming unsupported")
		slog.Error("Client connection does not support streaming", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	if err := writer.WriteStatus("Thinking..."); err != nil {
		slog.Warn("Failed to write status event", "error", err, "sessionId", sess.ID())
		return
	}

	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)

	tokenCount := 0
	firstTokenTime := time.Time{}
	onDelta := func(token string) error {
		if firstTokenTime.IsZero() {
			firstTokenTime = time.Now()
		}
		tokenCount++
		return writer.WriteToken(token)
	}

	result, err := h.coordinator.Exchange(ctx, sess, req.Message, req.MaxTokens, onDelta)

	close(heartbeatDone)

	if !firstTokenTime.IsZero() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, firstTokenTime.Sub(startTime).Seconds())
		}
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordTokensStreamed(endpoint, tokenCount)
	}

	if err != nil {
		h.reportStreamFailure(span, writer, endpoint, sess, err)
		return
	}

	if err := writer.WriteDone(sess.ID(), result.Answer); err != nil {
		slog.Warn("Failed to write done event", "error", err, "sessionId", sess.ID())
		return
	}

	span.SetAttributes(
		attribute.Int("stream.token_count", tokenCount),
		attribute.Int("stream.answer_bytes", len(result.Answer)),
	)
	span.SetStatus(codes.Ok, "stream completed")
	success = true

	slog.Info("Chat stream completed",
		"sessionId", sess.ID(),
		"tokens", tokenCount,
		"durationMs", time.Since(startTime).Milliseconds(),
	)
}

// HandleChat answers a chat request without streaming.
//
// The exchange semantics are identical to the streaming endpoint: the
// same single-flight guard, the same attachment handling, and the same
// atomic history append on success.
func (h *chatHandler) HandleChat(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChat

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChat")
	defer span.End()

	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not resolved"})
		return
	}
	span.SetAttributes(attribute.String("session.id", sess.ID()))

	req, ok := h.bindChatRequest(c, span, endpoint)
	if !ok {
		return
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
		}
	}()

	result, err := h.coordinator.ExchangeBlocking(ctx, sess, req.Message, req.MaxTokens)
	if err != nil {
		status, code := classifyExchangeError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		slog.Error("Chat exchange failed",
			"error", err,
			"sessionId", sess.ID(),
			"code", code,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, code)
		}
		c.JSON(status, gin.H{"error": sanitizeErrorForClient(err)})
		return
	}

	span.SetStatus(codes.Ok, "chat completed")
	success = true

	slog.Info("Chat completed",
		"sessionId", sess.ID(),
		"durationMs", time.Since(startTime).Milliseconds(),
	)
	resp := datatypes.NewChatResponse(req.RequestID, result.Answer)
	resp.AnswerHash = result.AnswerHash
	resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Internal Helpers
// =============================================================================

// bindChatRequest parses and validates the request body, responding
// with HTTP errors itself. The boolean result reports whether the
// caller should proceed.
func (h *chatHandler) bindChatRequest(
	c *gin.Context,
	span trace.Span,
	endpoint observability.Endpoint,
) (datatypes.ChatRequest, bool) {
	var req datatypes.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse chat request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return req, false
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Chat request validation failed", "error", err, "requestId", req.RequestID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return req, false
	}
	span.SetAttributes(attribute.String("request.id", req.RequestID))
	return req, true
}

// reportStreamFailure categorizes a failed exchange and reports it to
// the client over the already-open SSE channel. A client disconnect is
// recorded but not written back, since nobody is listening.
func (h *chatHandler) reportStreamFailure(
	span trace.Span,
	writer SSEWriter,
	endpoint observability.Endpoint,
	sess *session.Session,
	err error,
) {
	span.RecordError(err)

	switch {
	case errors.Is(err, context.Canceled):
		span.SetStatus(codes.Error, "client disconnected")
		slog.Info("Client disconnected mid-stream", "sessionId", sess.ID())
		if m := observability.DefaultMetrics; m != nil {
			m.RecordClientDisconnect(endpoint)
			m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
		}
		return
	case errors.Is(err, session.ErrStreamInFlight):
		span.SetStatus(codes.Error, "stream in flight")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeConflict)
		}
	case errors.Is(err, conversation.ErrValidation):
		span.SetStatus(codes.Error, "validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
	case errors.Is(err, conversation.ErrTransport):
		span.SetStatus(codes.Error, "transport failure")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeTransport)
		}
	default:
		span.SetStatus(codes.Error, "internal error")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
	}

	slog.Error("Chat stream failed", "error", err, "sessionId", sess.ID())
	if werr := writer.WriteError(sanitizeErrorForClient(err)); werr != nil {
		slog.Debug("Failed to write error event", "error", werr, "sessionId", sess.ID())
	}
}

// runHeartbeat sends SSE keepalive comments until done is closed.
//
// Runs in its own goroutine. Write failures stop the heartbeat; the
// main exchange notices the broken connection through its own writes.
func (h *chatHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// classifyExchangeError maps a coordinator error to an HTTP status and
// metric code for the blocking endpoint.
func classifyExchangeError(err error) (int, observability.ErrorCode) {
	switch {
	case errors.Is(err, session.ErrStreamInFlight):
		return http.StatusConflict, observability.ErrorCodeConflict
	case errors.Is(err, conversation.ErrValidation):
		return http.StatusBadRequest, observability.ErrorCodeValidation
	case errors.Is(err, conversation.ErrTransport):
		return http.StatusBadGateway, observability.ErrorCodeTransport
	default:
		return http.StatusInternalServerError, observability.ErrorCodeInternal
	}
}

// sanitizeErrorForClient maps an internal error to a generic message.
// The full error is logged by the caller; the client only ever sees a
// category.
func sanitizeErrorForClient(err error) string {
	switch {
	case errors.Is(err, session.ErrStreamInFlight):
		return "A response is already in progress for this session"
	case errors.Is(err, conversation.ErrValidation):
		return "The request could not be processed"
	case errors.Is(err, conversation.ErrTransport):
		return "The model service is temporarily unavailable. Please try again"
	default:
		return "An error occurred while processing your request"
	}
}

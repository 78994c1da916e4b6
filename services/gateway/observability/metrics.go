// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover streaming chat (request counters, token counters, time
// to first token, stream duration, active streams), the upload
// boundary, and the access gate. Exposed via the /metrics endpoint for
// Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "skiff"

const gatewaySubsystem = "gateway"

// GatewayMetrics holds all Prometheus metrics for the gateway.
//
// Initialize once at startup via InitMetrics(); duplicate
// initialization panics on re-registration.
type GatewayMetrics struct {
	// RequestsTotal counts requests by endpoint and status.
	// Labels: endpoint, status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TokensStreamedTotal counts output tokens delivered to clients.
	// Labels: endpoint
	TokensStreamedTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to first token.
	// Labels: endpoint
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by endpoint and category.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent.
	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec

	// UploadsTotal counts upload outcomes.
	// Labels: kind (pdf, docx, text, image, unsupported), status
	UploadsTotal *prometheus.CounterVec

	// LoginAttemptsTotal counts access gate outcomes.
	// Labels: outcome (success, mismatch, rate_limited)
	LoginAttemptsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *GatewayMetrics

// InitMetrics creates and registers all gateway metrics on the default
// Prometheus registry. Call once at startup.
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = &GatewayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Total requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TokensStreamedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "tokens_streamed_total",
				Help:      "Output tokens delivered to clients",
			},
			[]string{"endpoint"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Latency from request start to first streamed token",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total streamed response duration",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_streams",
				Help:      "Currently open streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "errors_total",
				Help:      "Errors by endpoint and category",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "keepalives_total",
				Help:      "Keepalive pings sent on open streams",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "client_disconnects_total",
				Help:      "Client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		UploadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "uploads_total",
				Help:      "Upload outcomes by file kind and status",
			},
			[]string{"kind", "status"},
		),

		LoginAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "login_attempts_total",
				Help:      "Access gate outcomes",
			},
			[]string{"outcome"},
		),
	}
	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode categorizes a failure for metrics labeling.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request or turn validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeTransport indicates the remote model call failed.
	ErrorCodeTransport ErrorCode = "transport"

	// ErrorCodeUnauthorized indicates the session is not past the gate.
	ErrorCodeUnauthorized ErrorCode = "unauthorized"

	// ErrorCodeRateLimited indicates gate attempts arrived too fast.
	ErrorCodeRateLimited ErrorCode = "rate_limited"

	// ErrorCodeConflict indicates an overlapping stream on one session.
	ErrorCodeConflict ErrorCode = "conflict"

	// ErrorCodeInternal indicates an internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates the client went away.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint labels a handler for metrics.
type Endpoint string

const (
	EndpointChatStream Endpoint = "chat_stream"
	EndpointChat       Endpoint = "chat"
	EndpointUploads    Endpoint = "uploads"
	EndpointLogin      Endpoint = "login"
	EndpointSessions   Endpoint = "sessions"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request.
func (m *GatewayMetrics) RecordRequest(endpoint Endpoint, success bool) {
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records a categorized failure.
func (m *GatewayMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordTokensStreamed adds to the delivered-token counter.
func (m *GatewayMetrics) RecordTokensStreamed(endpoint Endpoint, count int) {
	m.TokensStreamedTotal.WithLabelValues(string(endpoint)).Add(float64(count))
}

// StreamStarted increments the active streams gauge.
func (m *GatewayMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *GatewayMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records first-token latency in seconds.
func (m *GatewayMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records total stream duration in seconds.
func (m *GatewayMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(seconds)
}

// RecordKeepAlive increments the keepalive counter.
func (m *GatewayMetrics) RecordKeepAlive(endpoint Endpoint) {
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the disconnect counter.
func (m *GatewayMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordUpload records one file's upload outcome.
func (m *GatewayMetrics) RecordUpload(kind, status string) {
	m.UploadsTotal.WithLabelValues(kind, status).Inc()
}

// RecordLoginAttempt records an access gate outcome.
func (m *GatewayMetrics) RecordLoginAttempt(outcome string) {
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

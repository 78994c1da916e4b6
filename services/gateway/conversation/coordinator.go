// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
	"github.com/coastlineai/skiff/services/gateway/session"
	"github.com/coastlineai/skiff/services/llm"
)

var tracer = otel.Tracer("skiff/services/gateway/conversation")

// CursorMarker is the display-only marker a renderer may append to the
// in-progress buffer. It is never stored in history or the
// accumulator.
const CursorMarker = "▌"

// ProgressView returns the cumulative buffer decorated for display.
func ProgressView(cumulative string) string {
	return cumulative + CursorMarker
}

// ErrTransport wraps remote streaming failures: network errors, remote
// authentication failures, rate limits, and interrupted streams. When
// an exchange fails with ErrTransport, history is unchanged and the
// session remains usable for retry.
var ErrTransport = errors.New("transport failure")

// exchangeState names the phases of one exchange, for logs and traces.
type exchangeState string

const (
	stateComposing  exchangeState = "composing"
	stateStreaming  exchangeState = "streaming"
	stateFinalizing exchangeState = "finalizing"
	stateErrored    exchangeState = "errored"
)

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator drives chat exchanges against a model backend.
//
// # Description
//
// One exchange runs Composing (assemble the user turn), Streaming
// (deltas applied in receipt order to an explicit accumulator),
// Finalizing (append the completed user/assistant pair to history,
// clear the pending attachment), then back to idle. Any failure or
// cancellation before finalization discards the accumulator and leaves
// history and the pending attachment untouched.
//
// # Thread Safety
//
// Safe for concurrent use across sessions. Per session, the session's
// in-flight marker rejects overlapping exchanges.
type Coordinator struct {
	llmClient llm.LLMClient
	maxTokens int
}

// Result is the outcome of a successful exchange.
type Result struct {
	Answer     string
	AnswerHash string
	TokenCount int
}

// DeltaFunc observes each incremental delta as it is applied, in
// receipt order. Returning an error aborts the stream.
type DeltaFunc func(delta string) error

// NewCoordinator creates a Coordinator.
//
// maxTokens is the default output budget sent with every request;
// zero selects the provider default. Panics on a nil client: this is a
// wiring error, not a runtime condition.
func NewCoordinator(client llm.LLMClient, maxTokens int) *Coordinator {
	if client == nil {
		panic("conversation.NewCoordinator: llm client is required")
	}
	return &Coordinator{llmClient: client, maxTokens: maxTokens}
}

// Exchange runs one full streamed exchange for the session.
//
// # Inputs
//
//   - ctx: cancellation; an abandoned stream discards the in-progress
//     buffer and leaves history unmutated.
//   - sess: the conversation whose history and attachment are used.
//   - typed: the user's typed input.
//   - maxTokens: per-request output budget override; 0 uses the
//     coordinator default.
//   - onDelta: optional observer for progressive rendering.
//
// # Outputs
//
//   - *Result: the completed assistant text and its content hash.
//   - error: ErrValidation (turn construction), ErrTransport (remote
//     failure or cancellation), or session.ErrStreamInFlight. On any
//     error history length is unchanged.
func (c *Coordinator) Exchange(ctx context.Context, sess *session.Session, typed string, maxTokens int, onDelta DeltaFunc) (*Result, error) {
	if err := sess.TryBeginStream(); err != nil {
		return nil, err
	}
	defer sess.EndStream()

	ctx, span := tracer.Start(ctx, "Coordinator.Exchange")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID()))

	// Composing: fold the pending attachment into the next user turn.
	// The attachment is only cleared at finalization so a failed
	// stream does not eat the upload.
	span.SetAttributes(attribute.String("exchange.state", string(stateComposing)))
	userTurn, err := BuildUserTurn(typed, sess.PeekPendingAttachment())
	if err != nil {
		return nil, err
	}

	messages := ToProviderMessages(sess.SystemInstruction(), append(sess.HistorySnapshot(), userTurn))

	acc, err := NewAccumulator()
	if err != nil {
		return nil, fmt.Errorf("allocate accumulator: %w", err)
	}
	defer acc.Discard()

	// Streaming: deltas applied strictly in receipt order.
	span.SetAttributes(attribute.String("exchange.state", string(stateStreaming)))
	tokenCount := 0
	callback := func(event llm.StreamEvent) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch event.Type {
		case llm.StreamEventToken:
			if err := acc.Write(event.Content); err != nil {
				return err
			}
			tokenCount++
			if onDelta != nil {
				return onDelta(event.Content)
			}
			return nil
		case llm.StreamEventError:
			return fmt.Errorf("%w: %s", ErrTransport, event.Error)
		}
		return nil
	}

	if err := c.llmClient.ChatStream(ctx, messages, c.params(maxTokens), callback); err != nil {
		span.SetAttributes(attribute.String("exchange.state", string(stateErrored)))
		slog.Error("streamed exchange failed",
			"session_id", sess.ID(),
			"accumulator_id", acc.ID(),
			"tokens_before_failure", tokenCount,
			"error", err,
		)
		if errors.Is(err, ErrTransport) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	// Finalizing: exactly one assistant turn whose content is the
	// complete assembled text.
	span.SetAttributes(attribute.String("exchange.state", string(stateFinalizing)))
	answer, hashStr, err := acc.Finalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	assistantTurn := datatypes.NewTextTurn(datatypes.RoleAssistant, answer)
	if err := sess.AppendExchange(userTurn, assistantTurn); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	sess.ClearPendingAttachment()

	return &Result{Answer: answer, AnswerHash: hashStr, TokenCount: tokenCount}, nil
}

// ExchangeBlocking runs one non-streamed exchange with the same
// history and attachment semantics as Exchange.
func (c *Coordinator) ExchangeBlocking(ctx context.Context, sess *session.Session, typed string, maxTokens int) (*Result, error) {
	if err := sess.TryBeginStream(); err != nil {
		return nil, err
	}
	defer sess.EndStream()

	ctx, span := tracer.Start(ctx, "Coordinator.ExchangeBlocking")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID()))

	userTurn, err := BuildUserTurn(typed, sess.PeekPendingAttachment())
	if err != nil {
		return nil, err
	}

	messages := ToProviderMessages(sess.SystemInstruction(), append(sess.HistorySnapshot(), userTurn))

	answer, err := c.llmClient.Chat(ctx, messages, c.params(maxTokens))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	assistantTurn := datatypes.NewTextTurn(datatypes.RoleAssistant, answer)
	if err := sess.AppendExchange(userTurn, assistantTurn); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	sess.ClearPendingAttachment()

	return &Result{Answer: answer}, nil
}

func (c *Coordinator) params(maxTokens int) llm.GenerationParams {
	budget := c.maxTokens
	if maxTokens > 0 {
		budget = maxTokens
	}
	var p llm.GenerationParams
	if budget > 0 {
		p.MaxTokens = &budget
	}
	return p
}

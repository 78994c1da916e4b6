// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streamclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
)

// ErrChainBroken reports that the stream's hash chain failed
// verification.
var ErrChainBroken = errors.New("stream hash chain broken")

// ErrStreamFailed reports that the server sent an error event.
var ErrStreamFailed = errors.New("stream failed")

// TokenFunc receives each token's content as it arrives.
type TokenFunc func(content string) error

// StreamOutcome is the result of consuming one complete stream.
type StreamOutcome struct {
	// Answer is the complete text carried by the done event.
	Answer string

	// SessionID is the session the done event was addressed to.
	SessionID string

	// TokenCount is the number of token events received.
	TokenCount int

	// Chain is the verification result over every data event.
	Chain ChainResult
}

// ReadStream consumes one SSE chat stream from r until the terminal
// done or error event.
//
// # Description
//
// Parses each line, invokes onToken for token events as they arrive,
// and verifies the hash chain over the full event sequence once the
// stream terminates. A broken chain returns ErrChainBroken even when
// the stream otherwise completed; a server error event returns
// ErrStreamFailed wrapping the sanitized message.
//
// # Inputs
//
//   - ctx: Cancels consumption between events.
//   - r: The response body of a chat stream request.
//   - onToken: Called per token, may be nil. Returning an error stops
//     consumption.
//
// # Outputs
//
//   - *StreamOutcome: Assembled answer and chain result.
//   - error: Non-nil on transport failure, chain break, server error
//     event, or a stream ending without a terminal event.
func ReadStream(ctx context.Context, r io.Reader, onToken TokenFunc) (*StreamOutcome, error) {
	parser := NewSSEParser()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	outcome := &StreamOutcome{}
	var events []datatypes.StreamEvent
	terminal := false
	var streamErr string

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		event, err := parser.ParseLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		if event == nil {
			continue
		}
		events = append(events, *event)

		switch event.Type {
		case "token":
			outcome.TokenCount++
			if onToken != nil {
				if err := onToken(event.Content); err != nil {
					return nil, err
				}
			}
		case "done":
			outcome.Answer = event.Content
			outcome.SessionID = event.SessionId
			terminal = true
		case "error":
			streamErr = event.Error
			terminal = true
		}
		if terminal {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if !terminal {
		return nil, fmt.Errorf("stream ended without a terminal event after %d events", len(events))
	}

	outcome.Chain = NewChainVerifier().Verify(events)
	if !outcome.Chain.Valid {
		return outcome, fmt.Errorf("%w: %s", ErrChainBroken, outcome.Chain.ErrorMessage)
	}
	if streamErr != "" {
		return outcome, fmt.Errorf("%w: %s", ErrStreamFailed, streamErr)
	}
	return outcome, nil
}

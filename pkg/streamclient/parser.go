// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package streamclient consumes the gateway's SSE chat stream.
//
// The package separates three concerns: parsing raw SSE lines into
// events, verifying the per-stream hash chain, and driving a whole
// stream from an io.Reader. Parsers only parse; they do no I/O,
// rendering, or state management.
package streamclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coastlineai/skiff/services/gateway/datatypes"
)

// SSEParser parses Server-Sent Events lines into StreamEvent structs.
//
// SSE Format Reference (https://developer.mozilla.org/en-US/docs/Web/API/Server-sent_events):
//
//	event: token\n
//	data: {"type":"token","content":"Hello"}\n
//	\n
//
// Lines starting with "data: " carry a JSON payload. Empty lines are
// event delimiters. Lines starting with ":" are keepalive comments.
// "event:" lines are redundant with the payload's type field and are
// skipped.
//
// # Thread Safety
//
// The default implementation is stateless and safe for concurrent use.
type SSEParser interface {
	// ParseLine parses a single line of SSE input (without trailing
	// newline). Returns (nil, nil) for delimiter, comment, and
	// event-name lines.
	ParseLine(line string) (*datatypes.StreamEvent, error)
}

type sseParser struct{}

var _ SSEParser = (*sseParser)(nil)

// NewSSEParser creates the default SSE parser.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

func (p *sseParser) ParseLine(line string) (*datatypes.StreamEvent, error) {
	trimmed := strings.TrimRight(line, "\r")
	switch {
	case trimmed == "":
		return nil, nil
	case strings.HasPrefix(trimmed, ":"):
		return nil, nil
	case strings.HasPrefix(trimmed, "event:"):
		return nil, nil
	case strings.HasPrefix(trimmed, "data: "):
		payload := strings.TrimPrefix(trimmed, "data: ")
		var event datatypes.StreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("parse SSE data line: %w", err)
		}
		return &event, nil
	default:
		return nil, fmt.Errorf("unrecognized SSE line %q", truncateForError(trimmed))
	}
}

// truncateForError keeps error messages readable when a garbage line
// is long.
func truncateForError(s string) string {
	const max = 60
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

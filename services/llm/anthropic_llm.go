// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var anthropicTracer = otel.Tracer("skiff/services/llm/anthropic")

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 2048
)

// AnthropicClient talks to the Anthropic Messages API.
//
// # Description
//
// Implements LLMClient over the official Anthropic SDK. System messages
// are lifted into the request's system blocks; user and assistant
// messages keep their ordered text and image parts.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying SDK client is stateless per
// request.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

var _ LLMClient = (*AnthropicClient)(nil)

// NewAnthropicClient creates a client using ANTHROPIC_API_KEY from the
// environment or the container secret file.
func NewAnthropicClient(model string) (*AnthropicClient, error) {
	key, err := resolveAPIKey("ANTHROPIC_API_KEY", "/run/secrets/anthropic_api_key")
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(key)),
		model:  anthropic.Model(model),
	}, nil
}

// Chat sends the conversation and returns the complete assistant text.
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := anthropicTracer.Start(ctx, "AnthropicClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", string(c.model)))

	req, err := c.buildParams(messages, params)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Messages.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("anthropic chat: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String(), nil
}

// ChatStream streams the response, invoking callback per text delta in
// arrival order and once with StreamEventDone after a clean finish.
func (c *AnthropicClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	ctx, span := anthropicTracer.Start(ctx, "AnthropicClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", string(c.model)))

	req, err := c.buildParams(messages, params)
	if err != nil {
		return err
	}

	stream := c.client.Messages.NewStreaming(ctx, req)
	for stream.Next() {
		event := stream.Current()
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		if err := callback(StreamEvent{Type: StreamEventToken, Content: text.Text}); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return callback(StreamEvent{Type: StreamEventDone})
}

func (c *AnthropicClient) buildParams(messages []Message, params GenerationParams) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := msg.Text(); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case RoleUser, RoleAssistant:
			blocks, err := toAnthropicBlocks(msg.Parts)
			if err != nil {
				return anthropic.MessageNewParams{}, err
			}
			if len(blocks) == 0 {
				continue
			}
			if msg.Role == RoleUser {
				turns = append(turns, anthropic.NewUserMessage(blocks...))
			} else {
				turns = append(turns, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}

	maxTokens := int64(defaultAnthropicMaxTokens)
	if params.MaxTokens != nil {
		maxTokens = int64(*params.MaxTokens)
	}

	req := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  turns,
		System:    system,
	}
	if params.Temperature != nil {
		req.Temperature = anthropic.Float(float64(*params.Temperature))
	}
	if params.TopP != nil {
		req.TopP = anthropic.Float(float64(*params.TopP))
	}
	if params.TopK != nil {
		req.TopK = anthropic.Int(int64(*params.TopK))
	}
	if len(params.Stop) > 0 {
		req.StopSequences = params.Stop
	}
	return req, nil
}

func toAnthropicBlocks(parts []ContentPart) ([]anthropic.ContentBlockParamUnion, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case PartText:
			if p.Text == "" {
				continue
			}
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		case PartImage:
			blocks = append(blocks, anthropic.NewImageBlockBase64(p.MediaType, p.Data))
		default:
			return nil, fmt.Errorf("unsupported content part %q", p.Type)
		}
	}
	return blocks, nil
}

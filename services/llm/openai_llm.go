// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var openaiTracer = otel.Tracer("skiff/services/llm/openai")

const defaultOpenAIModel = openai.GPT4o

// OpenAIClient talks to the OpenAI Chat Completions API.
//
// Image parts are sent as data URLs inside multi-content messages,
// which is how the vision-capable chat models expect inline images.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client using OPENAI_API_KEY from the
// environment or the container secret file.
func NewOpenAIClient(model string) (*OpenAIClient, error) {
	key, err := resolveAPIKey("OPENAI_API_KEY", "/run/secrets/openai_api_key")
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		client: openai.NewClient(key),
		model:  model,
	}, nil
}

// Chat sends the conversation and returns the complete assistant text.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	req, err := c.buildRequest(messages, params)
	if err != nil {
		return "", err
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream streams the response, invoking callback per content delta
// in arrival order and once with StreamEventDone after a clean finish.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	req, err := c.buildRequest(messages, params)
	if err != nil {
		return err
	}
	req.Stream = true

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("openai stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		token := resp.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		if err := callback(StreamEvent{Type: StreamEventToken, Content: token}); err != nil {
			return err
		}
	}
	return callback(StreamEvent{Type: StreamEventDone})
}

func (c *OpenAIClient) buildRequest(messages []Message, params GenerationParams) (openai.ChatCompletionRequest, error) {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m, err := toOpenAIMessage(msg)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		converted = append(converted, m)
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: converted,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req, nil
}

func toOpenAIMessage(msg Message) (openai.ChatCompletionMessage, error) {
	var role string
	switch msg.Role {
	case RoleSystem:
		role = openai.ChatMessageRoleSystem
	case RoleUser:
		role = openai.ChatMessageRoleUser
	case RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	default:
		return openai.ChatCompletionMessage{}, fmt.Errorf("unsupported role %q", msg.Role)
	}

	// Plain-text messages use the simple Content field; mixed content
	// requires the multi-part form.
	hasImage := false
	for _, p := range msg.Parts {
		if p.Type == PartImage {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return openai.ChatCompletionMessage{Role: role, Content: msg.Text()}, nil
	}

	parts := make([]openai.ChatMessagePart, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case PartText:
			if p.Text == "" {
				continue
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		case PartImage:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.Data),
				},
			})
		default:
			return openai.ChatCompletionMessage{}, fmt.Errorf("unsupported content part %q", p.Type)
		}
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}, nil
}

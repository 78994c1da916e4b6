// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coastlineai/skiff/pkg/streamclient"
	"github.com/coastlineai/skiff/services/gateway/datatypes"
)

// =============================================================================
// Chat Command
// =============================================================================

var (
	chatServerURL string
	chatSecret    string

	chatCmd = &cobra.Command{
		Use:   "chat [message]",
		Short: "Stream a chat exchange against a running gateway",
		Long: `Creates a session on the gateway, unlocks it with the gate secret,
and streams the reply token by token. With a message argument it runs a
single exchange; without one it starts an interactive loop on stdin.

Every streamed event is verified against the server's hash chain, so a
dropped or reordered delta aborts the command with an error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), args)
		},
	}
)

func init() {
	chatCmd.Flags().StringVar(&chatServerURL, "server", "",
		"gateway base URL (default http://localhost:<configured port>)")
	chatCmd.Flags().StringVar(&chatSecret, "secret", "",
		"gate secret (default: the configured gate secret)")
	rootCmd.AddCommand(chatCmd)
}

// =============================================================================
// Gateway Client
// =============================================================================

// chatClient drives one authenticated session against the gateway's
// HTTP API. Not safe for concurrent use; each exchange holds the
// session's single stream slot.
type chatClient struct {
	baseURL    string
	httpClient *http.Client
	sessionID  string
}

func newChatClient(baseURL string) *chatClient {
	return &chatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: streams stay open for the life of a
		// reply. Cancellation comes from the request context.
		httpClient: &http.Client{},
	}
}

// open creates a session and unlocks it with the gate secret.
func (cl *chatClient) open(ctx context.Context, secret string) error {
	var created datatypes.SessionResponse
	if err := cl.postJSON(ctx, "/v1/sessions", nil, &created); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	cl.sessionID = created.SessionID

	login := datatypes.LoginRequest{SessionID: cl.sessionID, Secret: secret}
	var unlocked datatypes.SessionResponse
	if err := cl.postJSON(ctx, "/v1/login", login, &unlocked); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// send streams one exchange, writing tokens to out as they arrive.
func (cl *chatClient) send(ctx context.Context, message string, out io.Writer) (*streamclient.StreamOutcome, error) {
	body, err := json.Marshal(datatypes.ChatRequest{Message: message})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/sessions/%s/chat/stream", cl.baseURL, cl.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cl.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return streamclient.ReadStream(ctx, resp.Body, func(content string) error {
		_, err := fmt.Fprint(out, content)
		return err
	})
}

func (cl *chatClient) postJSON(ctx context.Context, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cl.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cl.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// =============================================================================
// Command Loop
// =============================================================================

func runChat(ctx context.Context, args []string) error {
	baseURL := chatServerURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	secret := chatSecret
	if secret == "" {
		resolved, err := cfg.ResolveGateSecret()
		if err != nil {
			return fmt.Errorf("no gate secret: pass --secret or configure one: %w", err)
		}
		secret = resolved
	}

	client := newChatClient(baseURL)
	if err := client.open(ctx, secret); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "session %s on %s\n", client.sessionID, baseURL)

	if len(args) == 1 {
		return streamOnce(ctx, client, args[0])
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if message == "/quit" || message == "/exit" {
			return nil
		}
		if err := streamOnce(ctx, client, message); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func streamOnce(ctx context.Context, client *chatClient, message string) error {
	start := time.Now()
	outcome, err := client.send(ctx, message, os.Stdout)
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d tokens in %s, chain verified over %d events\n",
		outcome.TokenCount, time.Since(start).Round(time.Millisecond), outcome.Chain.EventsVerified)
	return nil
}

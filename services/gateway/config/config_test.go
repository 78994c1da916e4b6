// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 12310, cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.LLM.Backend)
	assert.Equal(t, 2048, cfg.LLM.MaxTokens)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server:\n  port: 9000\nllm:\n  backend: openai\n  max_tokens: 512\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Backend)
	assert.Equal(t, 512, cfg.LLM.MaxTokens)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))
	t.Setenv("SKIFF_PORT", "9100")
	t.Setenv("SKIFF_LLM_MODEL", "gpt-4o")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
}

func TestLoad_RejectsBadBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  backend: bard\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_ResizeDimensionsPaired(t *testing.T) {
	cfg := Default()
	cfg.Uploads.ResizeWidth = 800
	assert.Error(t, cfg.Validate())

	cfg.Uploads.ResizeHeight = 600
	assert.NoError(t, cfg.Validate())
}

func TestValidate_SecretSourcesExclusive(t *testing.T) {
	cfg := Default()
	cfg.Gate.Secret = "a"
	cfg.Gate.SecretFile = "/run/secrets/gate"
	assert.Error(t, cfg.Validate())
}

func TestResolveGateSecret_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("  hunter2\n"), 0o600))

	cfg := Default()
	cfg.Gate.SecretFile = path
	secret, err := cfg.ResolveGateSecret()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
}

func TestResolveGateSecret_Unconfigured(t *testing.T) {
	cfg := Default()
	_, err := cfg.ResolveGateSecret()
	assert.Error(t, err)
}

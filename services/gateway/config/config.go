// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads gateway configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration. YAML values are applied
// first, then SKIFF_* environment variables override them.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Gate      GateConfig      `yaml:"gate"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Uploads   UploadsConfig   `yaml:"uploads"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port         int           `yaml:"port" env:"SKIFF_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SKIFF_READ_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SKIFF_IDLE_TIMEOUT"`
	ShutdownWait time.Duration `yaml:"shutdown_wait" env:"SKIFF_SHUTDOWN_WAIT"`
}

// LLMConfig selects and tunes the model backend.
type LLMConfig struct {
	// Backend is "anthropic" or "openai".
	Backend string `yaml:"backend" env:"SKIFF_LLM_BACKEND"`

	// Model overrides the backend's default model name.
	Model string `yaml:"model" env:"SKIFF_LLM_MODEL"`

	// MaxTokens is the default per-exchange output budget. Requests
	// may lower it, never raise it past the ceiling.
	MaxTokens int `yaml:"max_tokens" env:"SKIFF_LLM_MAX_TOKENS"`
}

// GateConfig holds the shared access secret. Exactly one of Secret or
// SecretFile must be set; the file form keeps the secret out of the
// environment and YAML.
type GateConfig struct {
	Secret     string `yaml:"secret" env:"SKIFF_GATE_SECRET"`
	SecretFile string `yaml:"secret_file" env:"SKIFF_GATE_SECRET_FILE"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level string `yaml:"level" env:"SKIFF_LOG_LEVEL"`
	Dir   string `yaml:"dir" env:"SKIFF_LOG_DIR"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" env:"SKIFF_OTEL_ENABLED"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// UploadsConfig tunes image normalization. Zero values keep original
// image dimensions.
type UploadsConfig struct {
	ResizeWidth  int `yaml:"resize_width" env:"SKIFF_UPLOAD_RESIZE_WIDTH"`
	ResizeHeight int `yaml:"resize_height" env:"SKIFF_UPLOAD_RESIZE_HEIGHT"`
}

// Default returns the configuration used when no YAML file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         12310,
			ReadTimeout:  30 * time.Second,
			IdleTimeout:  120 * time.Second,
			ShutdownWait: 10 * time.Second,
		},
		LLM: LLMConfig{
			Backend:   "anthropic",
			MaxTokens: 2048,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// Load reads the YAML file at path (missing file falls back to
// defaults), applies environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the invariants Load cannot express structurally.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.LLM.Backend) {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm.backend %q must be anthropic or openai", c.LLM.Backend)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.Gate.Secret != "" && c.Gate.SecretFile != "" {
		return fmt.Errorf("gate.secret and gate.secret_file are mutually exclusive")
	}
	if (c.Uploads.ResizeWidth == 0) != (c.Uploads.ResizeHeight == 0) {
		return fmt.Errorf("uploads.resize_width and uploads.resize_height must be set together")
	}
	return nil
}

// ResolveGateSecret returns the shared secret, reading the secret file
// if configured. The caller should move the value into guarded memory
// promptly.
func (c *Config) ResolveGateSecret() (string, error) {
	if c.Gate.Secret != "" {
		return c.Gate.Secret, nil
	}
	if c.Gate.SecretFile == "" {
		return "", fmt.Errorf("no gate secret configured: set gate.secret or gate.secret_file")
	}
	data, err := os.ReadFile(c.Gate.SecretFile)
	if err != nil {
		return "", fmt.Errorf("read gate secret file: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("gate secret file %s is empty", c.Gate.SecretFile)
	}
	return secret, nil
}

// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Skiff is a session gateway in front of a conversational model API:
// it normalizes document and image uploads into model-ready content,
// keeps per-session conversation state, and streams replies over SSE.
package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/coastlineai/skiff/services/gateway/config"
)

var (
	configPath string
	cfg        config.Config

	rootCmd = &cobra.Command{
		Use:   "skiff",
		Short: "A streaming chat gateway with upload normalization and session state",
		Long: `Skiff fronts a conversational model API with session management,
document and image upload normalization, a shared-secret access gate,
and Server-Sent Events streaming with hash-chained delta ordering.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml",
		"path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

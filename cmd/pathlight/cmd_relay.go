// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pathlight-app/pathlight/services/relay"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the reference relay backend",
	Long: `Serves the progress backend: the idempotent PUT /progress endpoint,
GET /progress rehydration, and the per-user websocket rooms clients
push through. State is in memory; every device's durable cache replays
into a fresh relay.`,
	Args: cobra.NoArgs,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := relay.NewServer(logger.Slog())
	return server.Run(ctx, config.Relay.ListenAddr)
}

// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command pathlight is the learning-progress CLI: toggle tasks, inspect
// stats and the replay queue, run the sync daemon, and serve the
// reference relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pathlight-app/pathlight/pkg/logging"
	"github.com/pathlight-app/pathlight/services/sync/session"
)

var (
	config     Config
	configPath string
	logger     *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "pathlight",
		Short: "Track and synchronize your learning progress",
		Long: `Pathlight tracks roadmap task completion locally first, so it works
offline, and synchronizes with the relay when a connection is available.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "pathlight.yaml",
		"path to the configuration file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = loadConfig(configPath)
		if err != nil {
			return err
		}

		logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(config.Log.Level),
			LogDir:  config.Log.Dir,
			Service: cmd.Name(),
			JSON:    config.Log.JSON,
		})
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	}
}

// openSession signs in using the loaded configuration. withChannel
// selects whether the websocket push channel is dialed; one-shot
// commands skip it and rely on the fallback path.
func openSession(withChannel bool) (*session.Session, error) {
	cfg := session.Config{
		Token:          config.User.Token,
		TokenSecret:    config.User.TokenSecret,
		UserID:         config.User.ID,
		DataDir:        config.DataDir,
		FallbackURL:    config.Relay.URL,
		ReplayInterval: config.Daemon.ReplayInterval,
	}
	if withChannel {
		cfg.ChannelURL = config.Relay.ChannelURL
	}

	s, err := session.Open(cfg, logger.Slog())
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return s, nil
}

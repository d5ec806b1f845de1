// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Keeps a session open: the push channel stays connected, queued
changes replay on their schedule, and the streak inactivity sweep runs
daily. Stop with SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	scheduler := gocron.NewScheduler(time.UTC)

	// The engine drains on its own timer too; this job covers the case
	// where the process slept through the timer (laptop lid).
	if _, err := scheduler.Every(5).Minutes().Do(func() {
		s.Engine.DrainReplay(context.Background(), false)
	}); err != nil {
		return fmt.Errorf("schedule replay drain: %w", err)
	}

	// Streak decay is forward-dated: nothing in the toggle path ever
	// lowers it, so a daily sweep zeroes streaks that lapsed.
	if _, err := scheduler.Every(1).Day().At(config.Daemon.SweepAt).Do(func() {
		s.Engine.SweepStreak()
	}); err != nil {
		return fmt.Errorf("schedule streak sweep: %w", err)
	}

	scheduler.StartAsync()
	defer scheduler.Stop()

	logger.Info("daemon running", "user_id", s.UserID, "device_id", s.DeviceID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("daemon stopping")
	return nil
}

// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pathlight-app/pathlight/pkg/validation"
)

var toggleCmd = &cobra.Command{
	Use:   "toggle <roadmapId> <moduleId> <taskId>",
	Short: "Toggle a task's completion state",
	Long: `Toggles the task locally first, updating stats immediately, then
propagates the change to the relay in the background. With no relay
configured or reachable, the change is queued durably and replayed
later.`,
	Args: cobra.ExactArgs(3),
	RunE: runToggle,
}

func init() {
	rootCmd.AddCommand(toggleCmd)
}

func runToggle(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateIDs(
		"roadmap id", args[0],
		"module id", args[1],
		"task id", args[2],
	); err != nil {
		return err
	}

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	rec := s.Engine.ToggleTask(args[0], args[1], args[2])

	state := "not completed"
	if rec.Completed {
		state = "completed"
	}
	fmt.Printf("task %s: %s\n", rec.TaskID, state)

	snap := s.Engine.Snapshot()
	fmt.Printf("level %d, %d xp, streak %d day(s)\n",
		snap.Level, snap.ExperiencePoints, snap.Streak)

	// The propagation attempt runs in the background; give it a moment
	// so the printed sync state reflects the outcome.
	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		cur, ok := s.Engine.Record(args[0], args[1], args[2])
		if ok && cur.Synced {
			fmt.Println("synced")
			return nil
		}
		if len(s.Engine.Pending()) > 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if pending := s.Engine.Pending(); len(pending) > 0 {
		fmt.Printf("%d change(s) queued for replay\n", len(pending))
	}
	return nil
}

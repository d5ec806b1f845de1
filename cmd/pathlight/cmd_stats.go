// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the local stats snapshot",
	Long: `Prints the stats snapshot from the local durable cache. Works fully
offline; the snapshot reflects every local toggle whether or not it has
synced yet.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	snap := s.Engine.Snapshot()

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Printf("user:            %s\n", snap.UserID)
	fmt.Printf("level:           %d\n", snap.Level)
	fmt.Printf("experience:      %d xp\n", snap.ExperiencePoints)
	fmt.Printf("streak:          %d day(s)\n", snap.Streak)
	fmt.Printf("total completed: %d\n", snap.TotalCompleted)
	fmt.Printf("weekly progress: %d\n", snap.WeeklyProgress)
	fmt.Printf("solved:          %d easy / %d medium / %d hard\n",
		snap.ProblemsSolved.Easy, snap.ProblemsSolved.Medium, snap.ProblemsSolved.Hard)
	if snap.LastActiveDate != "" {
		fmt.Printf("last active:     %s\n", snap.LastActiveDate)
	}
	return nil
}

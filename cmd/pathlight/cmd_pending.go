// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List changes waiting to sync",
	Long: `Lists the replay queue: changes that have not reached the relay yet.
Rejected entries were refused by the relay and will not be retried;
exhausted entries hit the retry ceiling and are retried when the
channel reconnects.`,
	Args: cobra.NoArgs,
	RunE: runPending,
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	pending := s.Engine.Pending()
	if len(pending) == 0 {
		fmt.Println("nothing pending; all changes are synced")
		return nil
	}

	for _, entry := range pending {
		status := "pending"
		switch {
		case entry.Rejected:
			status = "rejected"
		case entry.Exhausted:
			status = "exhausted"
		}
		fmt.Printf("%-10s %s (attempts %d, updated %s)\n",
			status,
			entry.Record.Key().String(),
			entry.Attempts,
			entry.Record.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

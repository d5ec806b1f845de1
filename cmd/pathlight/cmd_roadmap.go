// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/pathlight-app/pathlight/pkg/ux"
	"github.com/pathlight-app/pathlight/services/roadmap"
)

var roadmapCmd = &cobra.Command{
	Use:   "roadmap",
	Short: "Manage learning roadmaps",
}

var roadmapGenerateCmd = &cobra.Command{
	Use:   "generate <topic>...",
	Short: "Generate a roadmap for a topic and cache it locally",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRoadmapGenerate,
}

var roadmapShowCmd = &cobra.Command{
	Use:   "show <roadmapId>",
	Short: "Show a cached roadmap",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoadmapShow,
}

func init() {
	roadmapCmd.AddCommand(roadmapGenerateCmd)
	roadmapCmd.AddCommand(roadmapShowCmd)
	rootCmd.AddCommand(roadmapCmd)
}

func runRoadmapGenerate(cmd *cobra.Command, args []string) error {
	if config.OpenAI.APIKey == "" {
		return errors.New("OPENAI_API_KEY is not configured")
	}

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	gen := roadmap.NewOpenAIGenerator(
		openai.NewClient(config.OpenAI.APIKey), config.OpenAI.Model, logger.Slog())

	topic := strings.Join(args, " ")
	spinner := ux.NewSpinner(fmt.Sprintf("generating roadmap for %q", topic))
	spinner.Start()
	rm, err := gen.Generate(cmd.Context(), s.UserID, topic)
	spinner.Stop()
	if err != nil {
		return err
	}

	cache := roadmap.NewCache(s.Store, logger.Slog())
	if err := cache.Put(rm); err != nil {
		return fmt.Errorf("cache roadmap: %w", err)
	}

	fmt.Printf("roadmap %s: %q, %d modules, %d tasks\n",
		rm.ID, rm.Topic, len(rm.Modules), rm.TaskCount())
	return nil
}

func runRoadmapShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	cache := roadmap.NewCache(s.Store, logger.Slog())
	rm, ok, err := cache.Get(s.UserID, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("roadmap %s is not cached", args[0])
	}

	fmt.Printf("%s (%s)\n", rm.Topic, rm.ID)
	for _, m := range rm.Modules {
		fmt.Printf("  %s  %s\n", m.ID, m.Title)
		for _, task := range m.Tasks {
			marker := " "
			if rec, ok := s.Engine.Record(rm.ID, m.ID, task.ID); ok && rec.Completed {
				marker = "x"
			}
			diff := string(task.Difficulty)
			if diff == "" {
				diff = "-"
			}
			fmt.Printf("    [%s] %-8s %s  %s\n", marker, diff, task.ID, task.Title)
		}
	}
	return nil
}

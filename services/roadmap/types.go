// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package roadmap defines learning roadmap documents and their local
// cache.
//
// A roadmap is a tree of modules and tasks. The sync engine consumes
// only identifiers and per-task difficulty; everything else (titles,
// descriptions, ordering) is opaque content carried for display.
package roadmap

import (
	"time"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

// Task is one unit of work inside a module.
type Task struct {
	ID          string               `json:"id" validate:"required"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Difficulty  datatypes.Difficulty `json:"difficulty,omitempty"`
	ResourceURL string               `json:"resourceUrl,omitempty"`
}

// Module groups related tasks.
type Module struct {
	ID    string `json:"id" validate:"required"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

// Roadmap is a complete learning plan for one topic.
type Roadmap struct {
	ID        string    `json:"id" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	Topic     string    `json:"topic"`
	Modules   []Module  `json:"modules"`
	CreatedAt time.Time `json:"createdAt"`
}

// DifficultyOf looks up a task's difficulty anywhere in the roadmap.
// Unknown tasks report DifficultyUnknown.
func (r *Roadmap) DifficultyOf(taskID string) datatypes.Difficulty {
	for _, m := range r.Modules {
		for _, t := range m.Tasks {
			if t.ID == taskID {
				return t.Difficulty
			}
		}
	}
	return datatypes.DifficultyUnknown
}

// TaskCount returns the total number of tasks across all modules.
func (r *Roadmap) TaskCount() int {
	n := 0
	for _, m := range r.Modules {
		n += len(m.Tasks)
	}
	return n
}

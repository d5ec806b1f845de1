// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package roadmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

// Generator produces a roadmap document for a learning topic.
type Generator interface {
	Generate(ctx context.Context, userID, topic string) (*Roadmap, error)
}

// ErrEmptyTopic is returned for a blank topic string.
var ErrEmptyTopic = errors.New("topic is empty")

const systemPrompt = `You are a curriculum planner. Given a learning topic,
produce a JSON object with this exact shape and nothing else:

{"modules":[{"title":"...","tasks":[{"title":"...","description":"...","difficulty":"easy|medium|hard","resourceUrl":"..."}]}]}

Use 3 to 6 modules of 3 to 8 tasks each, ordered from fundamentals to
advanced material. Difficulty reflects how demanding the task is for a
newcomer to the topic.`

// generatedDoc is the model's output shape, before IDs are assigned.
type generatedDoc struct {
	Modules []struct {
		Title string `json:"title"`
		Tasks []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Difficulty  string `json:"difficulty"`
			ResourceURL string `json:"resourceUrl"`
		} `json:"tasks"`
	} `json:"modules"`
}

// OpenAIGenerator generates roadmaps through the OpenAI chat API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIGenerator creates a generator. Model defaults to gpt-4o-mini.
func NewOpenAIGenerator(client *openai.Client, model string, logger *slog.Logger) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIGenerator{client: client, model: model, logger: logger}
}

// Generate asks the model for a curriculum and assigns stable IDs to the
// resulting document. The content is treated as opaque; only the
// structure and difficulty labels are validated.
func (g *OpenAIGenerator) Generate(ctx context.Context, userID, topic string) (*Roadmap, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: topic},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("roadmap completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("roadmap completion returned no choices")
	}

	var doc generatedDoc
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &doc); err != nil {
		return nil, fmt.Errorf("parse roadmap document: %w", err)
	}
	if len(doc.Modules) == 0 {
		return nil, errors.New("roadmap document has no modules")
	}

	rm := assemble(userID, topic, doc)
	g.logger.Info("roadmap generated",
		"topic", topic, "modules", len(rm.Modules), "tasks", rm.TaskCount())
	return rm, nil
}

// assemble converts a model document into a Roadmap with generated IDs
// and normalized difficulty labels.
func assemble(userID, topic string, doc generatedDoc) *Roadmap {
	rm := &Roadmap{
		ID:        uuid.NewString(),
		UserID:    userID,
		Topic:     topic,
		CreatedAt: time.Now().UTC(),
	}
	for _, m := range doc.Modules {
		mod := Module{ID: uuid.NewString(), Title: m.Title}
		for _, t := range m.Tasks {
			mod.Tasks = append(mod.Tasks, Task{
				ID:          uuid.NewString(),
				Title:       t.Title,
				Description: t.Description,
				Difficulty:  normalizeDifficulty(t.Difficulty),
				ResourceURL: t.ResourceURL,
			})
		}
		rm.Modules = append(rm.Modules, mod)
	}
	return rm
}

// normalizeDifficulty maps free-form model output onto the known labels.
// Anything unrecognized becomes unknown rather than failing generation.
func normalizeDifficulty(s string) datatypes.Difficulty {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return datatypes.DifficultyEasy
	case "medium":
		return datatypes.DifficultyMedium
	case "hard":
		return datatypes.DifficultyHard
	default:
		return datatypes.DifficultyUnknown
	}
}

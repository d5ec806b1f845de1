// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package api is the stateless fallback client for the authoritative
// progress backend.
//
// The sync engine uses it whenever the push channel is unavailable. Every
// write is idempotent by compound key + updatedAt: delivering the same
// record twice (once over the channel, once via replay) is a no-op on the
// backend, so the client never has to track delivery state.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

// DefaultTimeout bounds one fallback request attempt. Fixed by design;
// retries are the caller's concern.
const DefaultTimeout = 5 * time.Second

var (
	// ErrRejected means the backend refused the record itself (4xx, e.g.
	// an unknown roadmap or task id). Rejected records must not be
	// retried.
	ErrRejected = errors.New("record rejected by backend")

	// ErrUnavailable means the backend could not be reached or answered
	// with a server error. Retryable.
	ErrUnavailable = errors.New("backend unavailable")
)

// IsRejected reports whether err is a permanent authoritative rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// PushRequest is the PUT /progress body.
type PushRequest struct {
	UserID      string               `json:"userId" validate:"required"`
	RoadmapID   string               `json:"roadmapId" validate:"required"`
	ModuleID    string               `json:"moduleId" validate:"required"`
	TaskID      string               `json:"taskId" validate:"required"`
	Difficulty  datatypes.Difficulty `json:"difficulty,omitempty"`
	Completed   bool                 `json:"completed"`
	CompletedAt *time.Time           `json:"completedAt,omitempty"`
	UpdatedAt   time.Time            `json:"updatedAt" validate:"required"`
}

// PushResponse is the backend's acknowledgment.
type PushResponse struct {
	Accepted bool                        `json:"accepted"`
	Record   *datatypes.CompletionRecord `json:"record,omitempty"`
}

// Client talks to the progress backend over plain request/response.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
	logger   *slog.Logger
}

// NewClient creates a Client for the backend at baseURL. The per-request
// timeout is fixed at DefaultTimeout.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		http:     &http.Client{Timeout: DefaultTimeout},
		validate: validator.New(),
		logger:   logger,
	}
}

// PushProgress delivers one completion record.
//
// Outputs:
//
//	*datatypes.CompletionRecord - The backend's accepted version, which
//	  may be a newer record from another device if this write lost a
//	  last-writer-wins comparison.
//	error - ErrRejected (permanent) on 4xx, ErrUnavailable (retryable)
//	  on transport failure or 5xx.
func (c *Client) PushProgress(ctx context.Context, rec datatypes.CompletionRecord) (*datatypes.CompletionRecord, error) {
	body := PushRequest{
		UserID:      rec.UserID,
		RoadmapID:   rec.RoadmapID,
		ModuleID:    rec.ModuleID,
		TaskID:      rec.TaskID,
		Difficulty:  rec.Difficulty,
		Completed:   rec.Completed,
		CompletedAt: rec.CompletedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if err := c.validate.Struct(body); err != nil {
		return nil, fmt.Errorf("%w: invalid record: %v", ErrRejected, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/progress", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out PushResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		return out.Record, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := readErrorBody(resp.Body)
		c.logger.Warn("backend rejected progress record",
			"status", resp.StatusCode,
			"key", rec.Key().String(),
			"detail", msg)
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)

	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

// FetchProgress returns every completion record the backend holds for
// userID. Used to rehydrate a fresh device.
func (c *Client) FetchProgress(ctx context.Context, userID string) ([]datatypes.CompletionRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/progress?userId="+userID, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var records []datatypes.CompletionRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: decode records: %v", ErrUnavailable, err)
	}
	return records, nil
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil || len(data) == 0 {
		return "(no detail)"
	}
	return strings.TrimSpace(string(data))
}

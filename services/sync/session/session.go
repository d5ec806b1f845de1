// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session wires one signed-in user's sync stack together.
//
// A Session is the composition root for everything user-scoped: the
// local durable cache, the event bus, the push channel, the fallback
// request client, and the synchronization engine. It is constructed at
// sign-in and torn down at sign-out. Nothing in this package, or in the
// packages it wires, holds user state in package-level variables; two
// sessions for two users can coexist in one process, which is what the
// integration tests do.
//
// Sign-out closes the network paths and the engine but keeps the durable
// cache directory on disk, so the next sign-in of the same user
// rehydrates records, stats, and the replay queue.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pathlight-app/pathlight/services/roadmap"
	"github.com/pathlight-app/pathlight/services/sync/api"
	"github.com/pathlight-app/pathlight/services/sync/bus"
	"github.com/pathlight-app/pathlight/services/sync/channel"
	"github.com/pathlight-app/pathlight/services/sync/datatypes"
	"github.com/pathlight-app/pathlight/services/sync/engine"
	storage "github.com/pathlight-app/pathlight/services/sync/storage/badger"
)

// ErrNoIdentity is returned when neither a token nor an explicit user id
// is configured.
var ErrNoIdentity = errors.New("session requires a token or an explicit user id")

// Config configures a Session.
type Config struct {
	// Token is a signed JWT whose "sub" claim carries the user id.
	// Verified against TokenSecret (HMAC).
	Token string

	// TokenSecret is the HMAC secret shared with the identity issuer.
	TokenSecret string

	// UserID bypasses token verification. Intended for local-only mode
	// and tests; ignored when Token is set.
	UserID string

	// DataDir is the root directory for the local durable cache. The
	// store lives in DataDir/cache. Ignored when InMemory is true.
	DataDir string

	// InMemory uses a non-persistent store. Intended for tests.
	InMemory bool

	// ChannelURL is the websocket endpoint of the relay. Empty disables
	// the push channel; the engine then uses the fallback client only.
	ChannelURL string

	// FallbackURL is the base URL of the relay's HTTP API. Empty
	// disables the fallback path (local-only mode).
	FallbackURL string

	// ReplayInterval overrides the engine's drain timer. Zero keeps the
	// engine default.
	ReplayInterval time.Duration

	// Roadmaps resolves task difficulty from cached roadmap documents.
	// Nil means all tasks count as unknown difficulty.
	Roadmaps *roadmap.Cache

	// Registry receives engine metrics. Nil leaves them unregistered.
	Registry prometheus.Registerer
}

// Session owns the sync stack for one signed-in user.
type Session struct {
	// UserID is the authenticated user, from the token's "sub" claim.
	UserID string

	// DeviceID identifies this session instance across the user's
	// devices. Generated fresh at sign-in.
	DeviceID string

	Store   *storage.Store
	Bus     *bus.Bus
	Channel *channel.Manager
	Client  *api.Client
	Engine  *engine.Engine

	logger *slog.Logger
}

// Open signs in: it resolves the user identity, opens the durable cache,
// and starts the engine. When a channel URL is configured the manager
// begins dialing immediately; Open does not wait for the connection.
func Open(cfg Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	userID := cfg.UserID
	if cfg.Token != "" {
		id, err := UserIDFromToken(cfg.Token, cfg.TokenSecret)
		if err != nil {
			return nil, fmt.Errorf("resolve identity: %w", err)
		}
		userID = id
	}
	if userID == "" {
		return nil, ErrNoIdentity
	}

	var store *storage.Store
	var err error
	if cfg.InMemory {
		store, err = storage.OpenInMemory()
	} else {
		if cfg.DataDir == "" {
			return nil, errors.New("data dir is required for a persistent session")
		}
		store, err = storage.Open(storage.DefaultConfig(filepath.Join(cfg.DataDir, "cache")))
	}
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}

	s := &Session{
		UserID:   userID,
		DeviceID: uuid.NewString(),
		Store:    store,
		Bus:      bus.New(logger),
		logger:   logger.With("user_id", userID),
	}

	if cfg.ChannelURL != "" {
		s.Channel = channel.NewManager(channel.Config{
			URL:    cfg.ChannelURL,
			UserID: userID,
		}, nil, logger)
	}
	if cfg.FallbackURL != "" {
		s.Client = api.NewClient(cfg.FallbackURL, logger)
	}

	engineCfg := engine.Config{
		UserID:         userID,
		ReplayInterval: cfg.ReplayInterval,
		Metrics:        engine.NewMetrics(cfg.Registry),
	}
	if cfg.Roadmaps != nil {
		rm := cfg.Roadmaps
		engineCfg.Difficulty = func(roadmapID, taskID string) datatypes.Difficulty {
			return rm.DifficultyOf(userID, roadmapID, taskID)
		}
	}

	var link engine.ChannelLink
	if s.Channel != nil {
		link = s.Channel
	}
	var fb engine.Fallback
	if s.Client != nil {
		fb = s.Client
	}
	s.Engine, err = engine.New(engineCfg, store, link, fb, s.Bus, logger)
	if err != nil {
		s.Bus.Close()
		store.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	s.Engine.Start()

	if s.Channel != nil {
		if err := s.Channel.Connect(); err != nil {
			s.logger.Warn("channel connect refused", "error", err)
		}
	}

	s.logger.Info("session opened", "device_id", s.DeviceID)
	return s, nil
}

// Close signs out: network paths and the engine stop, the bus closes,
// and the store closes. The on-disk cache is retained so a later sign-in
// resumes where this session left off.
func (s *Session) Close() error {
	if s.Channel != nil {
		s.Channel.Disconnect()
	}
	s.Engine.Close()
	s.Bus.Close()

	err := s.Store.Close()
	s.logger.Info("session closed")
	return err
}

// UserIDFromToken verifies an HMAC-signed JWT and extracts the "sub"
// claim.
func UserIDFromToken(token, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("token secret is not configured")
	}

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return "", errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject claim")
	}
	return claims.Subject, nil
}

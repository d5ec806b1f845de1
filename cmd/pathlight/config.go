// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration, loaded from pathlight.yaml with
// environment overrides on top. Secrets (token, API keys) normally come
// from the environment or a .env file rather than the YAML.
type Config struct {
	User struct {
		// ID is the explicit user id for local-only use. Ignored when a
		// token is configured.
		ID string `yaml:"id"`
		// Token is the signed sign-in token from the identity issuer.
		Token string `yaml:"token"`
		// TokenSecret verifies the token's HMAC signature.
		TokenSecret string `yaml:"tokenSecret"`
	} `yaml:"user"`

	// DataDir holds the local durable cache. Default ~/.pathlight.
	DataDir string `yaml:"dataDir"`

	Relay struct {
		// URL is the relay's HTTP base, e.g. http://localhost:8600.
		URL string `yaml:"url"`
		// ChannelURL is the relay's websocket endpoint, e.g.
		// ws://localhost:8600/ws. Empty disables the push channel.
		ChannelURL string `yaml:"channelUrl"`
		// ListenAddr is where `pathlight relay` serves. Default :8600.
		ListenAddr string `yaml:"listenAddr"`
	} `yaml:"relay"`

	Daemon struct {
		// ReplayInterval overrides the engine's drain timer.
		ReplayInterval time.Duration `yaml:"replayInterval"`
		// SweepAt is the daily wall-clock time (HH:MM, UTC) of the
		// streak inactivity sweep. Default 00:05.
		SweepAt string `yaml:"sweepAt"`
	} `yaml:"daemon"`

	OpenAI struct {
		// APIKey authenticates roadmap generation. Usually set through
		// OPENAI_API_KEY.
		APIKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`

	Log struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// loadConfig reads the YAML file if present, overlays .env and process
// environment variables, and fills defaults. A missing config file is
// not an error; everything has a workable default or an env source.
func loadConfig(path string) (Config, error) {
	// Best effort; a missing .env simply means the environment is
	// already set up.
	_ = godotenv.Load()

	var cfg Config
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PATHLIGHT_USER_ID"); v != "" {
		cfg.User.ID = v
	}
	if v := os.Getenv("PATHLIGHT_TOKEN"); v != "" {
		cfg.User.Token = v
	}
	if v := os.Getenv("PATHLIGHT_TOKEN_SECRET"); v != "" {
		cfg.User.TokenSecret = v
	}
	if v := os.Getenv("PATHLIGHT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PATHLIGHT_RELAY_URL"); v != "" {
		cfg.Relay.URL = v
	}
	if v := os.Getenv("PATHLIGHT_CHANNEL_URL"); v != "" {
		cfg.Relay.ChannelURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(home, ".pathlight")
		} else {
			cfg.DataDir = ".pathlight"
		}
	}
	if cfg.Relay.ListenAddr == "" {
		cfg.Relay.ListenAddr = ":8600"
	}
	if cfg.Daemon.SweepAt == "" {
		cfg.Daemon.SweepAt = "00:05"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

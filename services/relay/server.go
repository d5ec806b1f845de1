// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/pathlight-app/pathlight/pkg/validation"
	"github.com/pathlight-app/pathlight/services/sync/api"
	"github.com/pathlight-app/pathlight/services/sync/channel"
	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The relay trusts its deployment boundary; origin policy is the
		// reverse proxy's job.
		return true
	},
}

// Server is the relay's HTTP and websocket surface.
type Server struct {
	store    *Store
	hub      *Hub
	validate *validator.Validate
	logger   *slog.Logger
	router   *gin.Engine
}

// NewServer creates a Server with its routes registered.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		store:    NewStore(),
		hub:      NewHub(logger),
		validate: validator.New(),
		logger:   logger.With("component", "relay"),
		router:   router,
	}

	router.GET("/healthz", s.handleHealth)
	router.PUT("/progress", s.handlePushProgress)
	router.GET("/progress", s.handleFetchProgress)
	router.GET("/ws", s.handleWebsocket)

	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("relay listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "records": s.store.Len()})
}

// handlePushProgress is the idempotent write endpoint. The compound key
// plus updatedAt identifies a write; redelivery returns the same winner
// without side effects.
func (s *Server) handlePushProgress(c *gin.Context) {
	var req api.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body: " + err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid record: " + err.Error()})
		return
	}
	if err := validation.ValidateIDs(
		"user id", req.UserID,
		"roadmap id", req.RoadmapID,
		"module id", req.ModuleID,
		"task id", req.TaskID,
	); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	rec := datatypes.CompletionRecord{
		UserID:      req.UserID,
		RoadmapID:   req.RoadmapID,
		ModuleID:    req.ModuleID,
		TaskID:      req.TaskID,
		Difficulty:  req.Difficulty,
		Completed:   req.Completed,
		CompletedAt: req.CompletedAt,
		UpdatedAt:   req.UpdatedAt,
	}

	winner, applied := s.store.Upsert(rec)
	if applied {
		// Let the user's live sessions converge without polling.
		s.hub.Broadcast(rec.UserID, nil, channel.Envelope{
			Type:     channel.TypeProgressUpdated,
			UserID:   rec.UserID,
			Progress: &winner,
		})
	}

	c.JSON(http.StatusOK, api.PushResponse{Accepted: applied, Record: &winner})
}

func (s *Server) handleFetchProgress(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	c.JSON(http.StatusOK, s.store.List(userID))
}

// handleWebsocket runs one channel session: the client must join its
// room before pushing updates; updates are applied to the store and
// relayed to the user's other sessions as progress-updated frames.
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{conn: conn}
	userID := ""
	defer func() {
		if userID != "" {
			s.hub.Leave(userID, cl)
		}
		conn.Close()
	}()

	for {
		var env channel.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("channel session dropped", "user_id", userID, "error", err)
			}
			return
		}

		switch env.Type {
		case channel.TypeJoinRoom:
			if err := validation.ValidateID("user id", env.UserID); err != nil {
				s.logger.Warn("refusing join-room", "error", err)
				continue
			}
			if userID != "" {
				s.hub.Leave(userID, cl)
			}
			userID = env.UserID
			s.hub.Join(userID, cl)

		case channel.TypeProgressUpdate:
			if userID == "" || env.Progress == nil {
				continue
			}
			rec := *env.Progress
			if rec.UserID != userID {
				s.logger.Warn("dropping cross-user update",
					"session_user", userID, "record_user", rec.UserID)
				continue
			}
			winner, applied := s.store.Upsert(rec)
			if applied {
				s.hub.Broadcast(userID, cl, channel.Envelope{
					Type:     channel.TypeProgressUpdated,
					UserID:   userID,
					Progress: &winner,
				})
			}

		default:
			s.logger.Debug("ignoring unknown frame", "type", env.Type)
		}
	}
}

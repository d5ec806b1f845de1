// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine is the progress synchronization engine: the single
// owner of the in-memory completion set and stats snapshot for one
// session.
//
// Every user action is applied in two phases. Phase one is synchronous
// and infallible: the record is written through to the local durable
// cache, the stats reducer derives the new snapshot, and the event bus
// notifies consumers, all before ToggleTask returns. Phase two is
// asynchronous and retryable: the record is propagated channel-first,
// falling back to the request client, and lands in the durable replay
// queue when both paths fail. Propagation failures are never surfaced as
// errors on the toggle path.
//
// Remote records (other devices of the same user) merge in through
// ApplyRemote under last-writer-wins on updatedAt; arrival order is
// explicitly not trusted because the channel and fallback paths may
// reorder relative to each other.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pathlight-app/pathlight/services/sync/api"
	"github.com/pathlight-app/pathlight/services/sync/bus"
	"github.com/pathlight-app/pathlight/services/sync/channel"
	"github.com/pathlight-app/pathlight/services/sync/datatypes"
	storage "github.com/pathlight-app/pathlight/services/sync/storage/badger"
	"github.com/pathlight-app/pathlight/services/sync/stats"
)

// DefaultReplayInterval is how often the replay queue is drained in the
// absence of channel reconnects.
const DefaultReplayInterval = 30 * time.Second

// DefaultMaxReplayAttempts is the per-entry delivery ceiling. Entries
// that exhaust it are retained in a user-visible pending state and only
// retried again on channel reconnect.
const DefaultMaxReplayAttempts = 5

// ChannelLink is the engine's view of the push channel. *channel.Manager
// satisfies it; tests substitute fakes.
type ChannelLink interface {
	State() channel.State
	Send(rec datatypes.CompletionRecord) error
	Events() <-chan channel.Event
	Incoming() <-chan datatypes.CompletionRecord
}

// Fallback is the engine's view of the request/response client.
// *api.Client satisfies it.
type Fallback interface {
	PushProgress(ctx context.Context, rec datatypes.CompletionRecord) (*datatypes.CompletionRecord, error)
}

// Config configures an Engine.
type Config struct {
	// UserID scopes all records and cache keys. Required.
	UserID string

	// ReplayInterval is the drain timer period. Default 30s.
	ReplayInterval time.Duration

	// MaxReplayAttempts is the per-entry retry ceiling. Default 5.
	MaxReplayAttempts int

	// Now is the clock; defaults to time.Now. Injected by tests to pin
	// streak days and updatedAt ordering.
	Now func() time.Time

	// Difficulty resolves a task's difficulty at toggle time, usually
	// from a cached roadmap document. Nil means unknown difficulty.
	Difficulty func(roadmapID, taskID string) datatypes.Difficulty

	// Metrics receives instrumentation. Nil gets an unregistered set.
	Metrics *Metrics
}

// Engine orchestrates progress synchronization for one session.
//
// Thread Safety: Safe for concurrent use. All snapshot and record
// mutations are serialized on one mutex, and the optimistic apply path
// holds it for its full duration, so callers observe toggles in call
// order with no partially-applied state.
type Engine struct {
	cfg     Config
	store   *storage.Store
	ch      ChannelLink
	fb      Fallback
	bus     *bus.Bus
	logger  *slog.Logger
	reducer *stats.Reducer
	tracer  trace.Tracer
	metrics *Metrics

	mu       sync.Mutex
	records  map[datatypes.CompoundKey]datatypes.CompletionRecord
	snapshot datatypes.StatsSnapshot
	queue    []datatypes.ReplayQueueEntry
	offline  bool
	chanGone bool

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an Engine and rehydrates its state from the local durable
// cache: the record set, the stats snapshot, and the replay queue all
// survive process restarts.
//
// ch and fb may each be nil; the engine then operates through whatever
// paths remain, down to local-only mode.
func New(cfg Config, store *storage.Store, ch ChannelLink, fb Fallback, b *bus.Bus, logger *slog.Logger) (*Engine, error) {
	if cfg.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReplayInterval <= 0 {
		cfg.ReplayInterval = DefaultReplayInterval
	}
	if cfg.MaxReplayAttempts <= 0 {
		cfg.MaxReplayAttempts = DefaultMaxReplayAttempts
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:     cfg,
		store:   store,
		ch:      ch,
		fb:      fb,
		bus:     b,
		logger:  logger.With("component", "sync-engine", "user_id", cfg.UserID),
		reducer: stats.New(cfg.Now),
		tracer:  otel.Tracer("pathlight/sync/engine"),
		metrics: cfg.Metrics,
		records: make(map[datatypes.CompoundKey]datatypes.CompletionRecord),
		stop:    make(chan struct{}),
	}
	if err := e.rehydrate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) rehydrate() error {
	snap := datatypes.NewStatsSnapshot(e.cfg.UserID)
	if _, err := e.store.GetJSON(datatypes.StatsKeyFor(e.cfg.UserID), &snap); err != nil {
		return err
	}
	e.snapshot = snap

	err := e.store.ScanPrefix(datatypes.CompletionScanPrefix(e.cfg.UserID), func(_ string, value []byte) error {
		var rec datatypes.CompletionRecord
		if err := decodeJSON(value, &rec); err != nil {
			e.logger.Warn("skipping undecodable completion record", "error", err)
			return nil
		}
		e.records[rec.Key()] = rec
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := e.store.GetJSON(datatypes.ReplayKeyFor(e.cfg.UserID), &e.queue); err != nil {
		return err
	}
	e.metrics.ReplayDepth.Set(float64(len(e.queue)))

	e.logger.Info("engine rehydrated",
		"records", len(e.records),
		"pending", len(e.queue),
		"streak", e.snapshot.Streak)
	return nil
}

// Start launches the background loops: the replay drain timer and, when
// a channel is attached, the consumers of its event and incoming
// streams.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.replayLoop()

	if e.ch != nil {
		e.wg.Add(2)
		go e.channelEventLoop()
		go e.channelIncomingLoop()
	}
}

// Close stops the background loops. The durable cache already holds
// every mutation, so there is nothing to flush.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

// ToggleTask flips the completion state of one task and returns the new
// record before any network attempt is made.
//
// This call never fails: the record and derived snapshot are written
// through to the local cache and announced on the bus synchronously, and
// propagation runs in the background with retry. The UI may render the
// returned record immediately.
func (e *Engine) ToggleTask(roadmapID, moduleID, taskID string) datatypes.CompletionRecord {
	key := datatypes.CompoundKey{
		UserID:    e.cfg.UserID,
		RoadmapID: roadmapID,
		ModuleID:  moduleID,
		TaskID:    taskID,
	}

	e.mu.Lock()
	prev, existed := e.records[key]
	if !existed {
		prev = datatypes.CompletionRecord{
			UserID:    key.UserID,
			RoadmapID: key.RoadmapID,
			ModuleID:  key.ModuleID,
			TaskID:    key.TaskID,
		}
	}

	now := e.cfg.Now()
	next := prev
	next.Completed = !prev.Completed
	next.UpdatedAt = now
	next.Synced = false
	if next.Completed {
		ts := now
		next.CompletedAt = &ts
	} else {
		next.CompletedAt = nil
	}
	if next.Difficulty == datatypes.DifficultyUnknown && e.cfg.Difficulty != nil {
		next.Difficulty = e.cfg.Difficulty(roadmapID, taskID)
	}

	e.applyLocked(prev.Completed, next)
	snap := e.snapshot
	e.mu.Unlock()

	e.publishProgress(next)
	e.publishStats(snap)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.propagate(next)
	}()
	return next
}

// ApplyRemote merges a record observed from the backend, possibly
// originating on another device of the same user. Conflict rule:
// last-writer-wins by updatedAt; a record that is not strictly newer
// than the local one is discarded. Returns whether the record was
// applied.
func (e *Engine) ApplyRemote(rec datatypes.CompletionRecord) bool {
	if rec.UserID != e.cfg.UserID {
		return false
	}

	key := rec.Key()
	e.mu.Lock()
	cur, exists := e.records[key]
	if exists && !rec.Supersedes(cur) {
		e.mu.Unlock()
		e.metrics.ConflictsDiscarded.Inc()
		e.logger.Debug("discarded stale remote record",
			"key", key.String(), "remote_updated_at", rec.UpdatedAt)
		return false
	}

	rec.Synced = true
	e.applyLocked(cur.Completed, rec)
	e.removeQueueEntryLocked(key, rec.UpdatedAt)
	snap := e.snapshot
	e.mu.Unlock()

	e.publishProgress(rec)
	e.publishStats(snap)
	return true
}

// Snapshot returns the current derived statistics. Pure read.
func (e *Engine) Snapshot() datatypes.StatsSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Record returns the current record for one task, if any.
func (e *Engine) Record(roadmapID, moduleID, taskID string) (datatypes.CompletionRecord, bool) {
	key := datatypes.CompoundKey{
		UserID:    e.cfg.UserID,
		RoadmapID: roadmapID,
		ModuleID:  moduleID,
		TaskID:    taskID,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[key]
	return rec, ok
}

// Pending returns a copy of the replay queue, oldest first.
func (e *Engine) Pending() []datatypes.ReplayQueueEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]datatypes.ReplayQueueEntry, len(e.queue))
	copy(out, e.queue)
	return out
}

// SweepStreak applies the inactivity rule: a gap of more than one
// calendar day zeroes the streak. Called by the daemon's scheduled job.
func (e *Engine) SweepStreak() {
	e.mu.Lock()
	swept := stats.ResetIfInactive(e.snapshot, e.cfg.Now())
	changed := swept.Streak != e.snapshot.Streak
	if changed {
		e.snapshot = swept
		e.persistSnapshotLocked()
	}
	snap := e.snapshot
	e.mu.Unlock()

	if changed {
		e.logger.Info("streak reset by inactivity sweep")
		e.publishStats(snap)
	}
}

// applyLocked persists a record transition and its derived snapshot.
// Caller holds e.mu. This is the single write path shared by local
// toggles, remote merges, and nothing else; aggregate stats can only
// change through it.
func (e *Engine) applyLocked(prevCompleted bool, next datatypes.CompletionRecord) {
	key := next.Key()
	if err := e.store.PutJSON(datatypes.CompletionKeyFor(key), next); err != nil {
		// Local cache writes are the durability point and are expected
		// to succeed on-device; a failure leaves in-memory state ahead
		// of disk until the next write.
		e.logger.Error("local cache write failed", "key", key.String(), "error", err)
	}
	e.records[key] = next

	transition := stats.TransitionFor(prevCompleted, next.Completed)
	if transition != stats.TransitionNoop {
		e.snapshot = e.reducer.Reduce(e.snapshot, transition, next.Difficulty)
		e.persistSnapshotLocked()
	}
}

func (e *Engine) persistSnapshotLocked() {
	if err := e.store.PutJSON(datatypes.StatsKeyFor(e.cfg.UserID), e.snapshot); err != nil {
		e.logger.Error("stats snapshot write failed", "error", err)
	}
}

func (e *Engine) publishProgress(rec datatypes.CompletionRecord) {
	if err := e.bus.PublishProgress(rec); err != nil {
		e.logger.Warn("progress-changed publish failed", "error", err)
	}
}

func (e *Engine) publishStats(snap datatypes.StatsSnapshot) {
	if err := e.bus.PublishStats(snap); err != nil {
		e.logger.Warn("stats-changed publish failed", "error", err)
	}
}

func (e *Engine) publishStatus() {
	e.mu.Lock()
	st := bus.SyncStatus{State: bus.StateOnline, ChannelUnavailable: e.chanGone}
	if e.offline {
		st.State = bus.StateOffline
	}
	for _, entry := range e.queue {
		if entry.Rejected {
			st.Rejected++
		} else {
			st.Pending++
		}
	}
	e.mu.Unlock()

	if err := e.bus.PublishStatus(st); err != nil {
		e.logger.Warn("sync-status publish failed", "error", err)
	}
}

// propagate is phase two of a toggle: deliver the record to the backend,
// channel-first, and queue it for replay on failure.
func (e *Engine) propagate(rec datatypes.CompletionRecord) {
	ctx, span := e.tracer.Start(context.Background(), "sync.propagate",
		trace.WithAttributes(
			attribute.String("task_id", rec.TaskID),
			attribute.Bool("completed", rec.Completed),
		))
	defer span.End()

	authoritative, path, err := e.deliver(ctx, rec)
	switch {
	case err == nil:
		e.metrics.Propagations.WithLabelValues(path, "ok").Inc()
		e.setOffline(false)
		e.markSynced(rec)
		if authoritative != nil && authoritative.Supersedes(rec) {
			// The backend kept a newer record from another device; our
			// write lost last-writer-wins. Converge on the winner.
			e.ApplyRemote(*authoritative)
		}

	case api.IsRejected(err):
		e.metrics.Propagations.WithLabelValues(path, "rejected").Inc()
		span.SetStatus(codes.Error, "rejected")
		e.logger.Warn("record rejected by backend, will not retry",
			"key", rec.Key().String(), "error", err)
		e.enqueue(rec, true)

	default:
		e.metrics.Propagations.WithLabelValues(path, "retryable").Inc()
		span.SetStatus(codes.Error, "retryable")
		e.setOffline(true)
		e.enqueue(rec, false)
	}
	e.publishStatus()
}

// deliver attempts one delivery, channel-first. The returned record is
// the backend's authoritative version when the fallback path supplied
// one.
func (e *Engine) deliver(ctx context.Context, rec datatypes.CompletionRecord) (*datatypes.CompletionRecord, string, error) {
	if e.ch != nil && e.ch.State() == channel.StateConnected {
		if err := e.ch.Send(rec); err == nil {
			return nil, "channel", nil
		}
		// Broken channel mid-send; fall through to the request client.
	}
	if e.fb == nil {
		return nil, "fallback", api.ErrUnavailable
	}
	authoritative, err := e.fb.PushProgress(ctx, rec)
	return authoritative, "fallback", err
}

// markSynced flips the synced bit iff the acknowledged version is still
// the live one. A stale acknowledgment (the record was toggled again
// before the round-trip returned) is discarded so it cannot revive an
// already-reversed toggle.
func (e *Engine) markSynced(rec datatypes.CompletionRecord) {
	key := rec.Key()

	e.mu.Lock()
	cur, ok := e.records[key]
	if !ok || !cur.UpdatedAt.Equal(rec.UpdatedAt) {
		e.mu.Unlock()
		e.logger.Debug("discarded stale acknowledgment", "key", key.String())
		return
	}
	cur.Synced = true
	e.records[key] = cur
	if err := e.store.PutJSON(datatypes.CompletionKeyFor(key), cur); err != nil {
		e.logger.Error("local cache write failed", "key", key.String(), "error", err)
	}
	e.removeQueueEntryLocked(key, rec.UpdatedAt)
	e.mu.Unlock()

	e.publishProgress(cur)
}

func (e *Engine) setOffline(offline bool) {
	e.mu.Lock()
	e.offline = offline
	e.mu.Unlock()
}

func decodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

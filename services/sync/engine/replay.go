// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pathlight-app/pathlight/services/sync/api"
	"github.com/pathlight-app/pathlight/services/sync/channel"
	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

// enqueue adds a record to the durable replay queue, superseding any
// queued entry for the same compound key: only one pending version of a
// task is ever live, matching the record-set invariant. The backend's
// idempotency contract makes redundant deliveries harmless, but queued
// stale versions would still waste attempts.
func (e *Engine) enqueue(rec datatypes.CompletionRecord, rejected bool) {
	entry := datatypes.ReplayQueueEntry{
		Record:      rec,
		NextRetryAt: e.cfg.Now(),
		Rejected:    rejected,
	}

	e.mu.Lock()
	key := rec.Key()
	replaced := false
	for i := range e.queue {
		if e.queue[i].Record.Key() == key {
			e.queue[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		e.queue = append(e.queue, entry)
	}
	e.persistQueueLocked()
	depth := len(e.queue)
	e.mu.Unlock()

	e.metrics.ReplayDepth.Set(float64(depth))
	e.logger.Info("queued record for replay",
		"key", key.String(), "rejected", rejected, "depth", depth)
}

// removeQueueEntryLocked drops the queued entry for key if its version
// is not newer than upTo. Caller holds e.mu.
func (e *Engine) removeQueueEntryLocked(key datatypes.CompoundKey, upTo time.Time) {
	for i := range e.queue {
		if e.queue[i].Record.Key() != key {
			continue
		}
		if e.queue[i].Record.UpdatedAt.After(upTo) {
			return
		}
		e.queue = append(e.queue[:i], e.queue[i+1:]...)
		e.persistQueueLocked()
		e.metrics.ReplayDepth.Set(float64(len(e.queue)))
		return
	}
}

func (e *Engine) persistQueueLocked() {
	if err := e.store.PutJSON(datatypes.ReplayKeyFor(e.cfg.UserID), e.queue); err != nil {
		e.logger.Error("replay queue write failed", "error", err)
	}
}

// DrainReplay attempts redelivery of queued records, oldest first.
//
// afterReconnect marks drains triggered by a channel connected
// transition: those also retry entries that previously exhausted their
// attempt ceiling, since a fresh connection is new evidence the backend
// may be reachable. Timer-driven drains skip exhausted entries and
// respect per-entry nextRetryAt.
func (e *Engine) DrainReplay(ctx context.Context, afterReconnect bool) {
	ctx, span := e.tracer.Start(ctx, "sync.replay_drain",
		trace.WithAttributes(attribute.Bool("after_reconnect", afterReconnect)))
	defer span.End()

	now := e.cfg.Now()

	e.mu.Lock()
	due := make([]datatypes.ReplayQueueEntry, 0, len(e.queue))
	for _, entry := range e.queue {
		if entry.Rejected {
			continue
		}
		if entry.Exhausted && !afterReconnect {
			continue
		}
		if !afterReconnect && entry.NextRetryAt.After(now) {
			continue
		}
		due = append(due, entry)
	}
	e.mu.Unlock()

	if len(due) == 0 {
		return
	}
	span.SetAttributes(attribute.Int("due", len(due)))
	e.logger.Info("draining replay queue", "due", len(due))

	delivered := 0
	for _, entry := range due {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if e.superseded(entry) {
			e.mu.Lock()
			e.removeQueueEntryLocked(entry.Record.Key(), entry.Record.UpdatedAt)
			e.mu.Unlock()
			continue
		}

		authoritative, path, err := e.deliver(ctx, entry.Record)
		switch {
		case err == nil:
			e.metrics.Propagations.WithLabelValues(path, "ok").Inc()
			delivered++
			e.markSynced(entry.Record)
			if authoritative != nil && authoritative.Supersedes(entry.Record) {
				e.ApplyRemote(*authoritative)
			}

		case api.IsRejected(err):
			e.metrics.Propagations.WithLabelValues(path, "rejected").Inc()
			e.logger.Warn("queued record rejected by backend",
				"key", entry.Record.Key().String(), "error", err)
			e.markQueueEntry(entry.Record.Key(), func(en *datatypes.ReplayQueueEntry) {
				en.Rejected = true
			})

		default:
			e.metrics.Propagations.WithLabelValues(path, "retryable").Inc()
			e.rescheduleEntry(entry.Record.Key())
			// The backend is unreachable; trying the rest of the queue
			// now would only burn the remaining attempts.
			e.setOffline(true)
			e.publishStatus()
			return
		}
	}

	if delivered > 0 {
		e.setOffline(false)
	}
	e.publishStatus()
}

// superseded reports whether the live record for the entry's key has
// moved past the queued version.
func (e *Engine) superseded(entry datatypes.ReplayQueueEntry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.records[entry.Record.Key()]
	return ok && cur.UpdatedAt.After(entry.Record.UpdatedAt)
}

// rescheduleEntry bumps an entry's attempt counter and next retry time
// on the channel backoff schedule, flagging it exhausted at the ceiling.
// Exhausted entries are retained indefinitely, never silently dropped.
func (e *Engine) rescheduleEntry(key datatypes.CompoundKey) {
	e.markQueueEntry(key, func(en *datatypes.ReplayQueueEntry) {
		en.Attempts++
		en.NextRetryAt = e.cfg.Now().Add(
			channel.Delay(en.Attempts, channel.DefaultBaseDelay, channel.DefaultMaxDelay))
		if en.Attempts >= e.cfg.MaxReplayAttempts {
			en.Exhausted = true
			e.logger.Warn("replay attempts exhausted, retaining as pending",
				"key", key.String(), "attempts", en.Attempts)
		}
	})
}

func (e *Engine) markQueueEntry(key datatypes.CompoundKey, mutate func(*datatypes.ReplayQueueEntry)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.queue {
		if e.queue[i].Record.Key() == key {
			mutate(&e.queue[i])
			e.persistQueueLocked()
			return
		}
	}
}

// replayLoop is the fixed-interval drain timer.
func (e *Engine) replayLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.DrainReplay(context.Background(), false)
		}
	}
}

// channelEventLoop reacts to channel state transitions: a connected
// transition drains the replay queue (the manager has already rejoined
// the user's room by then), and the terminal channel-unavailable event
// is surfaced as a status change while the engine keeps operating
// through the fallback client.
func (e *Engine) channelEventLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stop:
			return
		case ev, ok := <-e.ch.Events():
			if !ok {
				return
			}
			if ev.Unavailable {
				e.mu.Lock()
				e.chanGone = true
				e.mu.Unlock()
				e.logger.Warn("push channel unavailable, fallback only")
				e.publishStatus()
				continue
			}
			if ev.State == channel.StateConnected {
				e.mu.Lock()
				e.chanGone = false
				e.mu.Unlock()
				e.setOffline(false)
				e.publishStatus()
				e.DrainReplay(context.Background(), true)
			}
		}
	}
}

// channelIncomingLoop merges server-pushed records from the user's
// other sessions.
func (e *Engine) channelIncomingLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stop:
			return
		case rec, ok := <-e.ch.Incoming():
			if !ok {
				return
			}
			e.ApplyRemote(rec)
		}
	}
}

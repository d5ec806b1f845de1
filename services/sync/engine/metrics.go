// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the engine's background propagation work. The
// optimistic local path is deliberately unmetered; it never fails and
// never waits.
type Metrics struct {
	// Propagations counts delivery attempts by path (channel, fallback)
	// and result (ok, retryable, rejected).
	Propagations *prometheus.CounterVec

	// ReplayDepth is the current number of unsynced entries in the
	// replay queue.
	ReplayDepth prometheus.Gauge

	// ConflictsDiscarded counts remote records dropped by the
	// last-writer-wins rule.
	ConflictsDiscarded prometheus.Counter
}

// NewMetrics creates the engine metric set. A nil registerer leaves the
// metrics unregistered, which is what tests and embedded uses want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Propagations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathlight",
			Subsystem: "sync",
			Name:      "propagations_total",
			Help:      "Completion record delivery attempts by path and result.",
		}, []string{"path", "result"}),
		ReplayDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pathlight",
			Subsystem: "sync",
			Name:      "replay_queue_depth",
			Help:      "Unsynced completion records awaiting replay.",
		}),
		ConflictsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pathlight",
			Subsystem: "sync",
			Name:      "conflicts_discarded_total",
			Help:      "Remote records discarded by last-writer-wins.",
		}),
	}
}

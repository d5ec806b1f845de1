// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stats derives aggregate statistics from completion-record
// transitions.
//
// Everything here is a pure function of its inputs plus an injected
// clock. The sync engine calls Reduce on every record transition and on
// every rehydration replay; because the reducer is deterministic, both
// paths produce identical snapshots from identical event orders.
//
// The invariants the reducer maintains:
//
//   - level = xp/XPPerLevel + 1, recomputed on every reduction, so level
//     can never diverge from experience points.
//   - All counters are non-negative; un-completing clamps at zero.
//   - Completing a task twice without an intervening un-complete is a
//     no-op transition and counts nothing twice.
package stats

import (
	"time"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

// XPPerLevel is the experience-point bucket size: levelling up takes 300
// points, so levelFor(299) = 1 and levelFor(300) = 2.
const XPPerLevel = 300

// Experience points awarded per completion, by difficulty. Unknown
// difficulties earn the easy rate.
const (
	PointsEasy   = 10
	PointsMedium = 20
	PointsHard   = 30
)

// Transition classifies a record state change for the reducer.
type Transition int

const (
	// TransitionNoop is completed→completed or uncompleted→uncompleted.
	TransitionNoop Transition = iota

	// TransitionCompleted is uncompleted→completed (+1 effects).
	TransitionCompleted

	// TransitionUncompleted is completed→uncompleted (exact inverse,
	// clamped at zero).
	TransitionUncompleted
)

func (t Transition) String() string {
	switch t {
	case TransitionCompleted:
		return "completed"
	case TransitionUncompleted:
		return "uncompleted"
	default:
		return "noop"
	}
}

// TransitionFor classifies the change from a prior completed state to a
// new one. Applying the same completed value twice is a no-op; this is
// what prevents double counting when the channel and the fallback path
// redeliver the same logical event.
func TransitionFor(prevCompleted, nextCompleted bool) Transition {
	switch {
	case !prevCompleted && nextCompleted:
		return TransitionCompleted
	case prevCompleted && !nextCompleted:
		return TransitionUncompleted
	default:
		return TransitionNoop
	}
}

// PointsFor returns the experience points a completion of the given
// difficulty is worth.
func PointsFor(d datatypes.Difficulty) int {
	switch d {
	case datatypes.DifficultyMedium:
		return PointsMedium
	case datatypes.DifficultyHard:
		return PointsHard
	default:
		return PointsEasy
	}
}

// LevelFor returns the level implied by an experience-point total.
// Pure and monotonic: LevelFor(0) = 1, LevelFor(299) = 1, LevelFor(300) = 2.
func LevelFor(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return xp/XPPerLevel + 1
}

// DayOf renders t's calendar day in UTC, the form stored in
// StatsSnapshot.LastActiveDate.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Reducer applies record transitions to snapshots.
//
// The zero value is not usable; construct with New. The clock is
// injectable so streak tests can pin the calendar day.
type Reducer struct {
	now func() time.Time
}

// New returns a Reducer using the given clock. A nil clock means
// time.Now.
func New(now func() time.Time) *Reducer {
	if now == nil {
		now = time.Now
	}
	return &Reducer{now: now}
}

// Reduce returns the snapshot after applying one transition of the given
// difficulty. The input snapshot is not modified.
func (r *Reducer) Reduce(prev datatypes.StatsSnapshot, t Transition, d datatypes.Difficulty) datatypes.StatsSnapshot {
	next := prev

	switch t {
	case TransitionCompleted:
		next.TotalCompleted++
		next.WeeklyProgress++
		next.ExperiencePoints += PointsFor(d)
		bumpProblemCount(&next.ProblemsSolved, d, +1)
		next.Streak, next.LastActiveDate = r.advanceStreak(prev.Streak, prev.LastActiveDate)

	case TransitionUncompleted:
		next.TotalCompleted = clamp(next.TotalCompleted - 1)
		next.WeeklyProgress = clamp(next.WeeklyProgress - 1)
		next.ExperiencePoints = clamp(next.ExperiencePoints - PointsFor(d))
		bumpProblemCount(&next.ProblemsSolved, d, -1)
		// Streak is date-based, not count-based: un-completing never
		// decrements it. Only forward-dated inactivity resets it.

	case TransitionNoop:
		return prev
	}

	next.Level = LevelFor(next.ExperiencePoints)
	return next
}

// advanceStreak applies the calendar-day streak rule: same day keeps the
// streak, exactly one day later extends it, any larger gap restarts at 1.
func (r *Reducer) advanceStreak(streak int, lastActive string) (int, string) {
	today := DayOf(r.now())
	if lastActive == "" {
		return 1, today
	}
	if lastActive == today {
		if streak < 1 {
			streak = 1
		}
		return streak, today
	}

	last, err := time.Parse("2006-01-02", lastActive)
	if err != nil {
		return 1, today
	}
	cur, _ := time.Parse("2006-01-02", today)
	if int(cur.Sub(last).Hours()/24) == 1 {
		return streak + 1, today
	}
	return 1, today
}

// ResetIfInactive zeroes the streak when the last active day is more
// than one calendar day before now. This is the time-based inactivity
// sweep run by the daemon, separate from the per-completion rule.
func ResetIfInactive(snap datatypes.StatsSnapshot, now time.Time) datatypes.StatsSnapshot {
	if snap.LastActiveDate == "" || snap.Streak == 0 {
		return snap
	}
	last, err := time.Parse("2006-01-02", snap.LastActiveDate)
	if err != nil {
		snap.Streak = 0
		return snap
	}
	cur, _ := time.Parse("2006-01-02", DayOf(now))
	if int(cur.Sub(last).Hours()/24) > 1 {
		snap.Streak = 0
	}
	return snap
}

func bumpProblemCount(c *datatypes.ProblemCounts, d datatypes.Difficulty, delta int) {
	switch d {
	case datatypes.DifficultyMedium:
		c.Medium = clamp(c.Medium + delta)
	case datatypes.DifficultyHard:
		c.Hard = clamp(c.Hard + delta)
	default:
		c.Easy = clamp(c.Easy + delta)
	}
	c.Total = clamp(c.Total + delta)
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

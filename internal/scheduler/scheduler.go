/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler resolves which traffic class's gate is open at a
// given instant, against the active gate control list.
package scheduler

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/friendsincode/heimdall_tsn/internal/cycle"
	"github.com/friendsincode/heimdall_tsn/internal/gcl"
)

// Resolution describes the window in force at a resolved instant.
type Resolution struct {
	Window   gcl.GateWindow
	Position time.Duration // offset within the current cycle
}

// Resolve finds the window covering ts under the half-open boundary
// convention. The second return is false when the schedule is idle
// (before base time) or ts falls in a gap with all gates closed.
func Resolve(g *gcl.GateControlList, ts time.Time) (Resolution, bool) {
	pos, ok := cycle.PositionOf(g.BaseTime(), g.CycleTime(), ts)
	if !ok {
		return Resolution{}, false
	}

	// Windows are sorted by start offset; find the first window starting
	// after pos, then check its predecessor.
	n := g.Len()
	i := sort.Search(n, func(i int) bool {
		return g.Window(i).StartOffset > pos
	})
	if i == 0 {
		return Resolution{}, false
	}
	w := g.Window(i - 1)
	if !w.Contains(pos) {
		// Trailing gap: legal all-gates-closed region, not a violation.
		return Resolution{}, false
	}
	return Resolution{Window: w, Position: pos}, true
}

// Scheduler owns the active schedule handle. Swaps are atomic: a
// resolution in progress completes against one consistent list, never a
// torn mix of old and new windows.
type Scheduler struct {
	active atomic.Pointer[gcl.GateControlList]
	swaps  atomic.Int64
}

// New creates a scheduler with the given initial schedule.
func New(g *gcl.GateControlList) *Scheduler {
	s := &Scheduler{}
	s.active.Store(g)
	return s
}

// Active returns the current schedule snapshot.
func (s *Scheduler) Active() *gcl.GateControlList {
	return s.active.Load()
}

// Swap installs a new schedule, modeling the admin-to-oper handoff, and
// returns the schedule it replaced.
func (s *Scheduler) Swap(g *gcl.GateControlList) *gcl.GateControlList {
	old := s.active.Swap(g)
	s.swaps.Add(1)
	return old
}

// Swaps returns how many schedule generations have been installed after
// the initial one.
func (s *Scheduler) Swaps() int64 { return s.swaps.Load() }

// Resolve resolves ts against the current schedule snapshot.
func (s *Scheduler) Resolve(ts time.Time) (Resolution, bool) {
	return Resolve(s.Active(), ts)
}

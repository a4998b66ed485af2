/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gcl models an IEEE 802.1Qbv gate control list: an immutable,
// ordered sequence of per-traffic-class time windows repeating over a
// fixed cycle.
package gcl

import (
	"errors"
	"fmt"
	"time"
)

// MaxTrafficClasses is the number of egress queues addressable by a
// gate state mask.
const MaxTrafficClasses = 8

var (
	// ErrCycleOverflow indicates the window durations exceed the cycle time.
	ErrCycleOverflow = errors.New("window durations exceed cycle time")

	// ErrDuplicateClass indicates a traffic class owns more than one window
	// while strict construction was requested.
	ErrDuplicateClass = errors.New("traffic class appears in multiple windows")

	// ErrGap indicates the windows do not tile the full cycle while strict
	// tiling was requested.
	ErrGap = errors.New("windows leave a gap in the cycle")

	// ErrInvalidWindow indicates a window with a non-positive duration or an
	// out-of-range traffic class.
	ErrInvalidWindow = errors.New("invalid gate window")
)

// GateWindow is one slot of the schedule. StartOffset is relative to the
// cycle start; GateState bit i means traffic class i's gate is open.
type GateWindow struct {
	TrafficClass int           `json:"traffic_class"`
	StartOffset  time.Duration `json:"start_offset"`
	Duration     time.Duration `json:"duration"`
	GateState    uint8         `json:"gate_state"`
}

// End returns the exclusive end offset of the window.
func (w GateWindow) End() time.Duration {
	return w.StartOffset + w.Duration
}

// Contains reports whether the cycle position falls inside the window.
// Windows are half-open: a position exactly at End belongs to the next
// window.
func (w GateWindow) Contains(pos time.Duration) bool {
	return pos >= w.StartOffset && pos < w.End()
}

// Opens reports whether the window's gate mask opens the given class.
func (w GateWindow) Opens(tc int) bool {
	if tc < 0 || tc >= MaxTrafficClasses {
		return false
	}
	return w.GateState&(1<<uint(tc)) != 0
}

// Entry is one row of schedule input. Start offsets are derived from the
// running sum of prior durations, matching the admin schedule wire
// format where only durations are carried.
type Entry struct {
	TrafficClass int
	Duration     time.Duration
	GateState    uint8 // zero means "open only this class"
}

// GateControlList is the validated, immutable cyclic schedule. Swapping
// in a new schedule means constructing a new list; readers always see a
// consistent snapshot.
type GateControlList struct {
	windows   []GateWindow
	cycleTime time.Duration
	baseTime  time.Time
}

// Option adjusts construction policy.
type Option func(*buildOptions)

type buildOptions struct {
	baseTime      time.Time
	strict        bool
	requireTiling bool
}

// WithBaseTime sets the absolute instant cycle numbering originates from.
// Before it the schedule is idle.
func WithBaseTime(t time.Time) Option {
	return func(o *buildOptions) { o.baseTime = t }
}

// Strict rejects schedules where one traffic class owns two windows.
// Off by default: priority duplication (several PCP values mapped onto
// one class) is a supported configuration on the target switches.
func Strict() Option {
	return func(o *buildOptions) { o.strict = true }
}

// RequireTiling rejects schedules whose windows do not cover the full
// cycle. Without it a trailing gap is a legal all-gates-closed region.
func RequireTiling() Option {
	return func(o *buildOptions) { o.requireTiling = true }
}

// New builds a gate control list from ordered entries. Start offsets are
// the running sum of prior durations. Construction fails fast; no
// partially built list is ever returned.
func New(entries []Entry, cycleTime time.Duration, opts ...Option) (*GateControlList, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	if cycleTime <= 0 {
		return nil, fmt.Errorf("cycle time %v: %w", cycleTime, ErrInvalidWindow)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty schedule: %w", ErrInvalidWindow)
	}

	windows := make([]GateWindow, 0, len(entries))
	seen := make(map[int]bool, len(entries))
	var offset time.Duration

	for i, e := range entries {
		if e.TrafficClass < 0 || e.TrafficClass >= MaxTrafficClasses {
			return nil, fmt.Errorf("entry %d: traffic class %d out of range: %w", i, e.TrafficClass, ErrInvalidWindow)
		}
		if e.Duration <= 0 {
			return nil, fmt.Errorf("entry %d: duration %v: %w", i, e.Duration, ErrInvalidWindow)
		}
		if o.strict && seen[e.TrafficClass] {
			return nil, fmt.Errorf("entry %d: traffic class %d: %w", i, e.TrafficClass, ErrDuplicateClass)
		}
		seen[e.TrafficClass] = true

		state := e.GateState
		if state == 0 {
			state = 1 << uint(e.TrafficClass)
		}

		windows = append(windows, GateWindow{
			TrafficClass: e.TrafficClass,
			StartOffset:  offset,
			Duration:     e.Duration,
			GateState:    state,
		})
		offset += e.Duration
		if offset > cycleTime {
			return nil, fmt.Errorf("cumulative duration %v over cycle %v: %w", offset, cycleTime, ErrCycleOverflow)
		}
	}

	if o.requireTiling && offset != cycleTime {
		return nil, fmt.Errorf("windows cover %v of %v: %w", offset, cycleTime, ErrGap)
	}

	return &GateControlList{
		windows:   windows,
		cycleTime: cycleTime,
		baseTime:  o.baseTime,
	}, nil
}

// Windows returns a copy of the ordered window sequence.
func (g *GateControlList) Windows() []GateWindow {
	out := make([]GateWindow, len(g.windows))
	copy(out, g.windows)
	return out
}

// Len returns the number of windows.
func (g *GateControlList) Len() int { return len(g.windows) }

// Window returns the window at index i. Callers must keep i in range.
func (g *GateControlList) Window(i int) GateWindow { return g.windows[i] }

// CycleTime returns the schedule period.
func (g *GateControlList) CycleTime() time.Duration { return g.cycleTime }

// BaseTime returns the schedule origin; zero means the schedule has
// always been in force.
func (g *GateControlList) BaseTime() time.Time { return g.baseTime }

// WindowsFor returns every window whose gate mask opens the given
// traffic class, in schedule order.
func (g *GateControlList) WindowsFor(tc int) []GateWindow {
	var out []GateWindow
	for _, w := range g.windows {
		if w.TrafficClass == tc || w.Opens(tc) {
			out = append(out, w)
		}
	}
	return out
}

// Tiles reports whether the windows exactly cover the cycle with no
// trailing gap.
func (g *GateControlList) Tiles() bool {
	var total time.Duration
	for _, w := range g.windows {
		total += w.Duration
	}
	return total == g.cycleTime
}

// MinWindowDuration returns the shortest window duration, used to bound
// guard band sizes.
func (g *GateControlList) MinWindowDuration() time.Duration {
	min := g.windows[0].Duration
	for _, w := range g.windows[1:] {
		if w.Duration < min {
			min = w.Duration
		}
	}
	return min
}

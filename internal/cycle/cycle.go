/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cycle maps absolute timestamps onto positions within a
// repeating schedule cycle. It is the only time arithmetic in the core;
// every component uses it instead of ambient clock access so behavior
// stays deterministic under synthetic timestamps.
package cycle

import "time"

// PositionOf returns the offset of ts within the cycle anchored at
// base. The second return is false while ts precedes base (the
// schedule is not yet in force). A zero base anchors the cycle at the
// Unix epoch, meaning the schedule has always been active.
func PositionOf(base time.Time, cycleTime time.Duration, ts time.Time) (time.Duration, bool) {
	if cycleTime <= 0 {
		return 0, false
	}
	if base.IsZero() {
		base = time.Unix(0, 0)
	} else if ts.Before(base) {
		return 0, false
	}

	pos := ts.Sub(base) % cycleTime
	if pos < 0 {
		pos += cycleTime
	}
	return pos, true
}

// Index returns the zero-based cycle count elapsed since base at ts,
// and false while ts precedes base.
func Index(base time.Time, cycleTime time.Duration, ts time.Time) (int64, bool) {
	if cycleTime <= 0 {
		return 0, false
	}
	if base.IsZero() {
		base = time.Unix(0, 0)
	} else if ts.Before(base) {
		return 0, false
	}
	return int64(ts.Sub(base) / cycleTime), true
}

// Distance returns the shortest wrap-aware separation between two cycle
// positions, i.e. min(|a-b|, cycleTime-|a-b|).
func Distance(a, b, cycleTime time.Duration) time.Duration {
	d := a - b
	if d < 0 {
		d = -d
	}
	if wrapped := cycleTime - d; wrapped < d {
		return wrapped
	}
	return d
}

// Forward returns how far position from must advance, moving forward
// through the cycle, to reach position to.
func Forward(from, to, cycleTime time.Duration) time.Duration {
	d := (to - from) % cycleTime
	if d < 0 {
		d += cycleTime
	}
	return d
}

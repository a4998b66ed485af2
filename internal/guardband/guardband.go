/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package guardband evaluates symmetric guard bands against a gate
// control list: each candidate guard trims both edges of every window
// and is scored against observed clock jitter.
package guardband

import (
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/heimdall_tsn/internal/gcl"
)

// ErrExceedsWindow reports a guard too wide for the narrowest window.
var ErrExceedsWindow = errors.New("guard band exceeds half the narrowest window")

// Analysis is the outcome of applying one guard band to a schedule.
type Analysis struct {
	Guard            time.Duration    `json:"guard"`
	EffectiveWindows []gcl.GateWindow `json:"effective_windows"`
	Samples          int              `json:"samples"`
	Violations       int              `json:"violations"`
	ViolationRate    float64          `json:"violation_rate"`
	// CapacityLoss is the fraction of the cycle surrendered to guards.
	CapacityLoss float64 `json:"capacity_loss"`
}

// Analyze trims guard from both edges of every window and scores the
// jitter samples against it. A sample violates when its absolute value
// exceeds the guard, meaning the transmission could slip past the
// trimmed edge. The guard must leave every window a positive effective
// duration, so it is capped below half the narrowest window.
func Analyze(g *gcl.GateControlList, guard time.Duration, jitter []time.Duration) (Analysis, error) {
	if guard < 0 {
		return Analysis{}, fmt.Errorf("negative guard band %v", guard)
	}
	if min := g.MinWindowDuration(); guard >= min/2 {
		return Analysis{}, fmt.Errorf("guard %v against %v window: %w", guard, min, ErrExceedsWindow)
	}

	windows := g.Windows()
	effective := make([]gcl.GateWindow, len(windows))
	for i, w := range windows {
		w.StartOffset += guard
		w.Duration -= 2 * guard
		effective[i] = w
	}

	violations := 0
	for _, j := range jitter {
		if j < 0 {
			j = -j
		}
		if j > guard {
			violations++
		}
	}

	a := Analysis{
		Guard:            guard,
		EffectiveWindows: effective,
		Samples:          len(jitter),
		Violations:       violations,
		CapacityLoss:     float64(2*guard) * float64(len(windows)) / float64(g.CycleTime()),
	}
	if a.Samples > 0 {
		a.ViolationRate = float64(violations) / float64(a.Samples)
	}
	return a, nil
}

// Sweep analyzes each candidate guard in turn. Guards that exceed the
// schedule's narrowest window abort the sweep.
func Sweep(g *gcl.GateControlList, guards []time.Duration, jitter []time.Duration) ([]Analysis, error) {
	out := make([]Analysis, 0, len(guards))
	for _, guard := range guards {
		a, err := Analyze(g, guard, jitter)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

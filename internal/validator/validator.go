/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package validator classifies claimed transmissions against the active
// gate schedule and keeps the append-only violation log consumed by
// reporting.
package validator

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_tsn/internal/cycle"
	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/gcl"
	"github.com/friendsincode/heimdall_tsn/internal/scheduler"
	"github.com/friendsincode/heimdall_tsn/internal/telemetry"
)

// Outcome classifies one transmission event. These are results, not
// errors: a mistimed packet is expected input.
type Outcome string

const (
	// OutcomeValid means the transmission fell inside the window whose
	// gate was open for its class.
	OutcomeValid Outcome = "valid"

	// OutcomeOutOfWindow means the class has a scheduled window but the
	// transmission landed outside it.
	OutcomeOutOfWindow Outcome = "out_of_window"

	// OutcomeOverlap means the class's own gate bit was open at the
	// transmission instant, but another class owned the active window.
	OutcomeOverlap Outcome = "overlap"

	// OutcomeNoWindow means the class never transmits by schedule (or the
	// schedule was not yet in force); magnitude is undefined.
	OutcomeNoWindow Outcome = "no_window"
)

// NoClass marks the expected-class field when no gate was open.
const NoClass = -1

// ViolationRecord is one immutable entry of the validator's log.
type ViolationRecord struct {
	ID            string         `json:"id"`
	TrafficClass  int            `json:"traffic_class"`
	Timestamp     time.Time      `json:"timestamp"`
	ExpectedClass int            `json:"expected_class"` // -1 when no gate was open
	Outcome       Outcome        `json:"outcome"`
	Magnitude     *time.Duration `json:"magnitude,omitempty"` // nil means undefined (NoWindow)
}

// Result is the classification returned to the caller.
type Result struct {
	Outcome       Outcome
	ExpectedClass int
	Magnitude     *time.Duration
}

// Valid reports whether the transmission was on schedule.
func (r Result) Valid() bool { return r.Outcome == OutcomeValid }

// Config adjusts validator behavior.
type Config struct {
	// RecordValid appends zero-magnitude records for on-schedule
	// transmissions. Off by default: on a healthy link valid events
	// dominate and would swamp the log.
	RecordValid bool
}

// Validator classifies transmissions against the scheduler's active
// schedule snapshot. Classification itself is pure; the only side
// effect is the append to the violation log.
type Validator struct {
	sched  *scheduler.Scheduler
	cfg    Config
	bus    *events.Bus
	logger zerolog.Logger

	mu      sync.Mutex
	records []ViolationRecord
	tallies map[int]*ClassTally
}

// ClassTally aggregates per-class outcomes.
type ClassTally struct {
	TrafficClass int           `json:"traffic_class"`
	Events       int64         `json:"events"`
	Violations   int64         `json:"violations"`
	MaxMagnitude time.Duration `json:"max_magnitude"`
	SumMagnitude time.Duration `json:"-"`
}

// MeanMagnitude returns the average violation magnitude for the class.
func (t *ClassTally) MeanMagnitude() time.Duration {
	if t.Violations == 0 {
		return 0
	}
	return t.SumMagnitude / time.Duration(t.Violations)
}

// New creates a validator bound to a scheduler. The bus may be nil when
// no consumer wants live violation events.
func New(sched *scheduler.Scheduler, cfg Config, bus *events.Bus, logger zerolog.Logger) *Validator {
	return &Validator{
		sched:   sched,
		cfg:     cfg,
		bus:     bus,
		logger:  logger.With().Str("component", "validator").Logger(),
		tallies: make(map[int]*ClassTally),
	}
}

// Validate classifies a claimed transmission of candidate class at ts.
// Every event yields a classification; validation never fails.
func (v *Validator) Validate(candidate int, ts time.Time) Result {
	// One snapshot for the whole classification, so a concurrent swap
	// can never mix windows of two schedule generations.
	g := v.sched.Active()
	result := classify(g, candidate, ts)

	v.record(candidate, ts, result)
	return result
}

// classify is the pure classification against one schedule snapshot.
func classify(g *gcl.GateControlList, candidate int, ts time.Time) Result {
	pos, active := cycle.PositionOf(g.BaseTime(), g.CycleTime(), ts)
	if !active {
		// Schedule not yet in force: nothing is expected of any class.
		return Result{Outcome: OutcomeNoWindow, ExpectedClass: NoClass}
	}

	expected := NoClass
	if res, ok := scheduler.Resolve(g, ts); ok {
		expected = res.Window.TrafficClass
		if expected == candidate {
			zero := time.Duration(0)
			return Result{Outcome: OutcomeValid, ExpectedClass: expected, Magnitude: &zero}
		}
	}

	own := g.WindowsFor(candidate)
	if len(own) == 0 {
		return Result{Outcome: OutcomeNoWindow, ExpectedClass: expected}
	}

	// The candidate's own gate bit open while another class owns the
	// window is priority duplication, not a timing miss.
	for _, w := range own {
		if w.Contains(pos) {
			zero := time.Duration(0)
			return Result{Outcome: OutcomeOverlap, ExpectedClass: expected, Magnitude: &zero}
		}
	}

	magnitude := nearestEdge(own, pos, g.CycleTime())
	return Result{Outcome: OutcomeOutOfWindow, ExpectedClass: expected, Magnitude: &magnitude}
}

// nearestEdge returns the wrap-aware distance from pos to the closest
// edge of the class's own windows. Positions just past the cycle end
// are adjacent to windows at the cycle start.
func nearestEdge(windows []gcl.GateWindow, pos, cycleTime time.Duration) time.Duration {
	best := cycleTime
	for _, w := range windows {
		toStart := cycle.Forward(pos, w.StartOffset, cycleTime)
		pastEnd := cycle.Forward(w.End()%cycleTime, pos, cycleTime)
		d := toStart
		if pastEnd < d {
			d = pastEnd
		}
		if d < best {
			best = d
		}
	}
	return best
}

func (v *Validator) record(candidate int, ts time.Time, result Result) {
	telemetry.ValidationsTotal.WithLabelValues(string(result.Outcome), strconv.Itoa(candidate)).Inc()

	v.mu.Lock()
	tally, ok := v.tallies[candidate]
	if !ok {
		tally = &ClassTally{TrafficClass: candidate}
		v.tallies[candidate] = tally
	}
	tally.Events++

	var rec *ViolationRecord
	if result.Valid() {
		if v.cfg.RecordValid {
			rec = v.newRecord(candidate, ts, result)
		}
	} else {
		tally.Violations++
		if result.Magnitude != nil {
			tally.SumMagnitude += *result.Magnitude
			if *result.Magnitude > tally.MaxMagnitude {
				tally.MaxMagnitude = *result.Magnitude
			}
		}
		rec = v.newRecord(candidate, ts, result)
	}
	if rec != nil {
		v.records = append(v.records, *rec)
	}
	v.mu.Unlock()

	if result.Valid() || rec == nil {
		return
	}

	if result.Magnitude != nil {
		telemetry.ViolationMagnitudeSeconds.Observe(result.Magnitude.Seconds())
	}
	if v.bus != nil {
		v.bus.Publish(events.EventGateViolation, events.Payload{
			"record_id":      rec.ID,
			"traffic_class":  candidate,
			"expected_class": result.ExpectedClass,
			"outcome":        string(result.Outcome),
			"timestamp":      ts,
			"magnitude":      result.Magnitude,
		})
	}
	v.logger.Debug().
		Int("traffic_class", candidate).
		Int("expected_class", result.ExpectedClass).
		Str("outcome", string(result.Outcome)).
		Msg("gate violation")
}

func (v *Validator) newRecord(candidate int, ts time.Time, result Result) *ViolationRecord {
	return &ViolationRecord{
		ID:            uuid.NewString(),
		TrafficClass:  candidate,
		Timestamp:     ts,
		ExpectedClass: result.ExpectedClass,
		Outcome:       result.Outcome,
		Magnitude:     result.Magnitude,
	}
}

// Records returns a snapshot of the violation log.
func (v *Validator) Records() []ViolationRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ViolationRecord, len(v.records))
	copy(out, v.records)
	return out
}

// Tallies returns per-class aggregates for every class seen so far,
// ordered by traffic class.
func (v *Validator) Tallies() []ClassTally {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ClassTally, 0, len(v.tallies))
	for tc := 0; tc < gcl.MaxTrafficClasses; tc++ {
		if t, ok := v.tallies[tc]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// Reset clears the log and tallies, used between runs.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records = nil
	v.tallies = make(map[int]*ClassTally)
}

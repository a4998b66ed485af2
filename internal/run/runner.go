/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package run orchestrates validation campaigns: it drives a synthetic
// workload through the validator, probes gate transitions for
// switching latency, sweeps guard bands, persists the findings and
// publishes a report.
package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/guardband"
	"github.com/friendsincode/heimdall_tsn/internal/latency"
	"github.com/friendsincode/heimdall_tsn/internal/models"
	"github.com/friendsincode/heimdall_tsn/internal/report"
	"github.com/friendsincode/heimdall_tsn/internal/scheduler"
	"github.com/friendsincode/heimdall_tsn/internal/storage"
	"github.com/friendsincode/heimdall_tsn/internal/telemetry"
	"github.com/friendsincode/heimdall_tsn/internal/traffic"
	"github.com/friendsincode/heimdall_tsn/internal/validator"
)

// ErrRunInProgress is returned when a second run is started while one
// is active.
var ErrRunInProgress = errors.New("run already in progress")

// Params configure one campaign.
type Params struct {
	Cycles          int           `json:"cycles"`
	Seed            int64         `json:"seed"`
	EventsPerWindow int           `json:"events_per_window"`
	JitterStdDev    time.Duration `json:"jitter_stddev"`
	MisfireProb     float64       `json:"misfire_prob"`
	ProbeSigma      time.Duration `json:"probe_sigma"`
	LatencyBound    time.Duration `json:"latency_bound"`
	// GuardBands to sweep in the report; empty skips the sweep.
	GuardBands []time.Duration `json:"guard_bands,omitempty"`
	// RecordValid keeps valid classifications in the violation log.
	RecordValid bool `json:"record_valid"`
}

func (p *Params) normalize() error {
	if p.Cycles <= 0 {
		p.Cycles = 50
	}
	if p.EventsPerWindow <= 0 {
		p.EventsPerWindow = 1
	}
	if p.MisfireProb < 0 || p.MisfireProb > 1 {
		return fmt.Errorf("misfire probability %v outside [0,1]", p.MisfireProb)
	}
	if p.LatencyBound <= 0 {
		p.LatencyBound = time.Microsecond
	}
	return nil
}

// Runner executes campaigns one at a time against the live scheduler.
type Runner struct {
	sched  *scheduler.Scheduler
	db     *gorm.DB
	store  storage.ObjectStore
	bus    *events.Bus
	logger zerolog.Logger

	mu      sync.Mutex
	active  string
	cancel  context.CancelFunc
	started sync.WaitGroup
}

func NewRunner(sched *scheduler.Scheduler, db *gorm.DB, store storage.ObjectStore, bus *events.Bus, logger zerolog.Logger) *Runner {
	return &Runner{
		sched:  sched,
		db:     db,
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// Start launches a campaign and returns its run ID immediately; the
// campaign executes in the background.
func (r *Runner) Start(ctx context.Context, scheduleID string, params Params) (string, error) {
	if err := params.normalize(); err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.active != "" {
		r.mu.Unlock()
		return "", ErrRunInProgress
	}
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	r.active = runID
	r.cancel = cancel
	r.started.Add(1)
	r.mu.Unlock()

	now := time.Now()
	rec := &models.Run{
		ID:              runID,
		ScheduleID:      scheduleID,
		Status:          models.RunRunning,
		Cycles:          params.Cycles,
		Seed:            params.Seed,
		EventsPerWindow: params.EventsPerWindow,
		JitterStdDevNs:  int64(params.JitterStdDev),
		MisfireProb:     params.MisfireProb,
		ProbeSigmaNs:    int64(params.ProbeSigma),
		StartedAt:       &now,
	}
	if err := r.db.Create(rec).Error; err != nil {
		r.finish()
		return "", fmt.Errorf("persist run: %w", err)
	}

	telemetry.ActiveRuns.Inc()
	if r.bus != nil {
		r.bus.Publish(events.EventRunStart, events.Payload{"run_id": runID, "params": params})
	}
	r.logger.Info().Str("run_id", runID).Int("cycles", params.Cycles).Msg("run started")

	go r.execute(runCtx, runID, params)
	return runID, nil
}

// Stop cancels the active run, if any.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Active returns the in-progress run ID, empty when idle.
func (r *Runner) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Wait blocks until the current campaign finishes. Used by tests and
// the CLI one-shot mode.
func (r *Runner) Wait() {
	r.started.Wait()
}

func (r *Runner) finish() {
	r.mu.Lock()
	r.active = ""
	r.cancel = nil
	r.mu.Unlock()
	r.started.Done()
}

func (r *Runner) execute(ctx context.Context, runID string, params Params) {
	defer telemetry.ActiveRuns.Dec()
	defer r.finish()

	if err := r.campaign(ctx, runID, params); err != nil {
		r.logger.Error().Err(err).Str("run_id", runID).Msg("run failed")
		r.db.Model(&models.Run{}).Where("id = ?", runID).
			Updates(map[string]any{"status": models.RunFailed, "error": err.Error()})
		if r.bus != nil {
			r.bus.Publish(events.EventRunFailed, events.Payload{"run_id": runID, "error": err.Error()})
		}
	}
}

func (r *Runner) campaign(ctx context.Context, runID string, params Params) error {
	g := r.sched.Active()
	if g == nil {
		return errors.New("no schedule installed")
	}

	v := validator.New(r.sched, validator.Config{RecordValid: params.RecordValid}, r.bus, r.logger)
	gen := traffic.NewGenerator(traffic.GeneratorConfig{
		Seed:            params.Seed,
		EventsPerWindow: params.EventsPerWindow,
		JitterStdDev:    params.JitterStdDev,
		MisfireProb:     params.MisfireProb,
	})
	if err := gen.Stream(ctx, g, params.Cycles, func(tc int, ts time.Time) {
		v.Validate(tc, ts)
	}); err != nil {
		return fmt.Errorf("drive workload: %w", err)
	}

	collector := latency.NewCollector()
	probe := traffic.NewBoundaryProbe(params.ProbeSigma, params.Seed)
	probe.Observe(g, params.Cycles, collector)
	summary := collector.Summarize()

	var sweep []guardband.Analysis
	if len(params.GuardBands) > 0 {
		var err error
		sweep, err = guardband.Sweep(g, params.GuardBands, latencyDeltas(collector))
		if err != nil {
			return fmt.Errorf("guard band sweep: %w", err)
		}
		if r.bus != nil {
			r.bus.Publish(events.EventGuardBandSweep, events.Payload{"run_id": runID, "analyses": len(sweep)})
		}
	}

	tallies := v.Tallies()
	doc := report.Build(runID, g, tallies, summary, params.LatencyBound, sweep)

	reportKey := ""
	if r.store != nil {
		key, err := doc.Publish(ctx, r.store)
		if err != nil {
			return fmt.Errorf("publish report: %w", err)
		}
		reportKey = key
	}

	if err := r.persist(runID, v, summary, params, doc, reportKey); err != nil {
		return err
	}

	if !summary.MeetsBound(params.LatencyBound) && r.bus != nil {
		r.bus.Publish(events.EventLatencyBreach, events.Payload{
			"run_id":  runID,
			"max_abs": summary.MaxAbs,
			"bound":   params.LatencyBound,
		})
	}
	if r.bus != nil {
		r.bus.Publish(events.EventRunComplete, events.Payload{
			"run_id":         runID,
			"events":         doc.Events,
			"violations":     doc.Violations,
			"violation_rate": doc.ViolationRate,
			"meets_bound":    doc.MeetsBound,
		})
	}
	r.logger.Info().
		Str("run_id", runID).
		Int64("events", doc.Events).
		Int64("violations", doc.Violations).
		Bool("meets_bound", doc.MeetsBound).
		Msg("run complete")
	return nil
}

func (r *Runner) persist(runID string, v *validator.Validator, summary latency.Summary, params Params, doc *report.Report, reportKey string) error {
	records := v.Records()
	rows := make([]models.Violation, 0, len(records))
	for _, rec := range records {
		row := models.Violation{
			ID:            rec.ID,
			RunID:         runID,
			TrafficClass:  rec.TrafficClass,
			ExpectedClass: rec.ExpectedClass,
			Outcome:       string(rec.Outcome),
			Timestamp:     rec.Timestamp,
		}
		if rec.Magnitude != nil {
			ns := int64(*rec.Magnitude)
			row.MagnitudeNs = &ns
		}
		rows = append(rows, row)
	}
	if len(rows) > 0 {
		if err := r.db.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("persist violations: %w", err)
		}
	}

	lat := models.LatencySummary{
		RunID:      runID,
		Count:      summary.Count,
		MeanNs:     int64(summary.Mean),
		StdDevNs:   int64(summary.StdDev),
		MaxAbsNs:   int64(summary.MaxAbs),
		P50Ns:      int64(summary.P50),
		P95Ns:      int64(summary.P95),
		P99Ns:      int64(summary.P99),
		BoundNs:    int64(params.LatencyBound),
		MeetsBound: summary.MeetsBound(params.LatencyBound),
	}
	if err := r.db.Create(&lat).Error; err != nil {
		return fmt.Errorf("persist latency summary: %w", err)
	}

	var maxMagnitude time.Duration
	for _, tally := range doc.Tallies {
		if tally.MaxMagnitude > maxMagnitude {
			maxMagnitude = tally.MaxMagnitude
		}
	}
	now := time.Now()
	updates := map[string]any{
		"status":           models.RunComplete,
		"events":           doc.Events,
		"violations":       doc.Violations,
		"violation_rate":   doc.ViolationRate,
		"max_magnitude_ns": int64(maxMagnitude),
		"meets_bound":      doc.MeetsBound,
		"report_key":       reportKey,
		"completed_at":     &now,
	}
	if err := r.db.Model(&models.Run{}).Where("id = ?", runID).Updates(updates).Error; err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	return nil
}

// latencyDeltas feeds the probe's signed offsets to the guard band
// scorer.
func latencyDeltas(c *latency.Collector) []time.Duration {
	samples := c.Samples()
	out := make([]time.Duration, len(samples))
	for i, s := range samples {
		out[i] = s.Delta
	}
	return out
}

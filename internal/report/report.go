/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package report renders a validation run's findings as JSON for
// machines and Markdown for humans, and publishes both to object
// storage.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/heimdall_tsn/internal/gcl"
	"github.com/friendsincode/heimdall_tsn/internal/guardband"
	"github.com/friendsincode/heimdall_tsn/internal/latency"
	"github.com/friendsincode/heimdall_tsn/internal/storage"
	"github.com/friendsincode/heimdall_tsn/internal/validator"
)

// Report is the full findings document for one run.
type Report struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`

	CycleTime time.Duration    `json:"cycle_time"`
	Windows   []gcl.GateWindow `json:"windows"`

	Events        int64   `json:"events"`
	Violations    int64   `json:"violations"`
	ViolationRate float64 `json:"violation_rate"`

	Tallies []validator.ClassTally `json:"tallies"`

	Latency      latency.Summary `json:"latency"`
	LatencyBound time.Duration   `json:"latency_bound"`
	MeetsBound   bool            `json:"meets_bound"`

	GuardBands []guardband.Analysis `json:"guard_bands,omitempty"`
}

// Build assembles the document from a run's collaborators.
func Build(runID string, g *gcl.GateControlList, tallies []validator.ClassTally, lat latency.Summary, bound time.Duration, guards []guardband.Analysis) *Report {
	r := &Report{
		RunID:        runID,
		GeneratedAt:  time.Now().UTC(),
		CycleTime:    g.CycleTime(),
		Windows:      g.Windows(),
		Tallies:      tallies,
		Latency:      lat,
		LatencyBound: bound,
		MeetsBound:   lat.MeetsBound(bound),
		GuardBands:   guards,
	}
	for _, tally := range tallies {
		r.Events += tally.Events
		r.Violations += tally.Violations
	}
	if r.Events > 0 {
		r.ViolationRate = float64(r.Violations) / float64(r.Events)
	}
	return r
}

// JSON renders the machine-readable document.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Markdown renders the human-readable document.
func (r *Report) Markdown() []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Validation Report %s\n\n", r.RunID)
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(&b, "## Schedule\n\n")
	fmt.Fprintf(&b, "Cycle time: %s\n\n", r.CycleTime)
	b.WriteString("| # | Class | Start | Duration | Gate State |\n")
	b.WriteString("|---|-------|-------|----------|------------|\n")
	for i, w := range r.Windows {
		fmt.Fprintf(&b, "| %d | %d | %s | %s | %08b |\n", i, w.TrafficClass, w.StartOffset, w.Duration, w.GateState)
	}

	fmt.Fprintf(&b, "\n## Transmissions\n\n")
	fmt.Fprintf(&b, "Events: %d, violations: %d (rate %.4f)\n\n", r.Events, r.Violations, r.ViolationRate)
	b.WriteString("| Class | Events | Violations | Max magnitude | Mean magnitude |\n")
	b.WriteString("|-------|--------|------------|---------------|----------------|\n")
	for i := range r.Tallies {
		tally := &r.Tallies[i]
		fmt.Fprintf(&b, "| %d | %d | %d | %s | %s |\n",
			tally.TrafficClass, tally.Events, tally.Violations, tally.MaxMagnitude, tally.MeanMagnitude())
	}

	fmt.Fprintf(&b, "\n## Switching Latency\n\n")
	fmt.Fprintf(&b, "Samples: %d\n\n", r.Latency.Count)
	b.WriteString("| Mean | StdDev | Max abs | p50 | p95 | p99 |\n")
	b.WriteString("|------|--------|---------|-----|-----|-----|\n")
	fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
		r.Latency.Mean, r.Latency.StdDev, r.Latency.MaxAbs, r.Latency.P50, r.Latency.P95, r.Latency.P99)
	verdict := "FAIL"
	if r.MeetsBound {
		verdict = "PASS"
	}
	fmt.Fprintf(&b, "\nCompliance bound %s: **%s**\n", r.LatencyBound, verdict)

	if len(r.GuardBands) > 0 {
		fmt.Fprintf(&b, "\n## Guard Band Sweep\n\n")
		b.WriteString("| Guard | Samples | Violations | Rate | Capacity loss |\n")
		b.WriteString("|-------|---------|------------|------|---------------|\n")
		for _, a := range r.GuardBands {
			fmt.Fprintf(&b, "| %s | %d | %d | %.4f | %.4f |\n",
				a.Guard, a.Samples, a.Violations, a.ViolationRate, a.CapacityLoss)
		}
	}

	return []byte(b.String())
}

// Publish writes both renderings under runs/<id>/ and returns the JSON
// key.
func (r *Report) Publish(ctx context.Context, store storage.ObjectStore) (string, error) {
	data, err := r.JSON()
	if err != nil {
		return "", fmt.Errorf("render report json: %w", err)
	}
	jsonKey := fmt.Sprintf("runs/%s/report.json", r.RunID)
	if err := store.Put(ctx, jsonKey, data); err != nil {
		return "", err
	}
	mdKey := fmt.Sprintf("runs/%s/report.md", r.RunID)
	if err := store.Put(ctx, mdKey, r.Markdown()); err != nil {
		return "", err
	}
	return jsonKey, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package latency accumulates switching-latency samples, the signed
// offsets between scheduled gate transitions and their observed times,
// and summarizes them against a compliance bound.
package latency

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/heimdall_tsn/internal/telemetry"
)

// Sample is one observed gate transition.
type Sample struct {
	TrafficClass int           `json:"traffic_class"`
	Expected     time.Time     `json:"expected"`
	Observed     time.Time     `json:"observed"`
	Delta        time.Duration `json:"delta"`
}

// Summary are the aggregate statistics over all samples. Mean and
// StdDev are computed on signed deltas; MaxAbs and the percentiles on
// absolute values, since a gate firing early is as late as one firing
// late.
type Summary struct {
	Count  int           `json:"count"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stddev"`
	MaxAbs time.Duration `json:"max_abs"`
	P50    time.Duration `json:"p50"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
}

// MeetsBound reports whether every sample stayed strictly inside the
// bound.
func (s Summary) MeetsBound(bound time.Duration) bool {
	return s.Count > 0 && s.MaxAbs < bound
}

// Collector is a concurrency-safe accumulator of latency samples.
type Collector struct {
	mu      sync.Mutex
	samples []Sample
}

func NewCollector() *Collector {
	return &Collector{}
}

// Add records one transition. The delta is derived, not trusted from
// the caller.
func (c *Collector) Add(trafficClass int, expected, observed time.Time) Sample {
	s := Sample{
		TrafficClass: trafficClass,
		Expected:     expected,
		Observed:     observed,
		Delta:        observed.Sub(expected),
	}
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
	telemetry.LatencySamplesTotal.Inc()
	return s
}

// Samples returns a snapshot of the accumulated samples.
func (c *Collector) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

// Reset discards all samples, used between runs.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.samples = nil
	c.mu.Unlock()
}

// Summarize computes the statistics over the current samples. It reads
// a snapshot, so calling it repeatedly with no intervening Add returns
// identical values.
func (c *Collector) Summarize() Summary {
	samples := c.Samples()
	n := len(samples)
	if n == 0 {
		return Summary{}
	}

	var sum float64
	abs := make([]float64, n)
	for i, s := range samples {
		d := float64(s.Delta)
		sum += d
		abs[i] = math.Abs(d)
	}
	mean := sum / float64(n)

	var variance float64
	for _, s := range samples {
		d := float64(s.Delta) - mean
		variance += d * d
	}
	variance /= float64(n)

	sort.Float64s(abs)
	return Summary{
		Count:  n,
		Mean:   time.Duration(mean),
		StdDev: time.Duration(math.Sqrt(variance)),
		MaxAbs: time.Duration(abs[n-1]),
		P50:    time.Duration(percentile(abs, 50)),
		P95:    time.Duration(percentile(abs, 95)),
		P99:    time.Duration(percentile(abs, 99)),
	}
}

// Percentile returns the p-th percentile of absolute deltas over the
// current samples, interpolating between ranks. Returns 0 with no
// samples; p is clamped to [0, 100].
func (c *Collector) Percentile(p float64) time.Duration {
	samples := c.Samples()
	if len(samples) == 0 {
		return 0
	}
	p = math.Max(0, math.Min(100, p))

	abs := make([]float64, len(samples))
	for i, s := range samples {
		abs[i] = math.Abs(float64(s.Delta))
	}
	sort.Float64s(abs)
	return time.Duration(percentile(abs, p))
}

// percentile interpolates linearly over the sorted values.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

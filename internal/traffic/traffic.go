/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package traffic synthesizes transmission workloads against a gate
// control list: well-behaved talkers with gaussian clock jitter, a
// tunable misfire rate, and a boundary probe that observes gate
// transitions for latency measurement.
package traffic

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/heimdall_tsn/internal/gcl"
	"github.com/friendsincode/heimdall_tsn/internal/latency"
)

// Event is one claimed transmission on the synthetic timeline.
type Event struct {
	TrafficClass int       `json:"traffic_class"`
	Timestamp    time.Time `json:"timestamp"`
	// Misfire marks events deliberately placed without regard to the
	// schedule.
	Misfire bool `json:"misfire,omitempty"`
}

// Sink consumes generated events, typically a validator's Validate.
type Sink func(trafficClass int, ts time.Time)

// GeneratorConfig shapes the synthetic workload.
type GeneratorConfig struct {
	// Seed makes a run reproducible; zero seeds from the clock.
	Seed int64 `json:"seed" yaml:"seed"`
	// EventsPerWindow spreads this many transmissions across each of a
	// class's windows per cycle. Defaults to 1.
	EventsPerWindow int `json:"events_per_window" yaml:"events_per_window"`
	// JitterStdDev perturbs each event time with gaussian noise.
	JitterStdDev time.Duration `json:"jitter_stddev" yaml:"jitter_stddev"`
	// MisfireProb is the chance an event ignores its window and lands
	// uniformly anywhere in the cycle.
	MisfireProb float64 `json:"misfire_prob" yaml:"misfire_prob"`
}

// Generator produces deterministic workloads from a seeded source.
type Generator struct {
	cfg GeneratorConfig
	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.EventsPerWindow <= 0 {
		cfg.EventsPerWindow = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (gen *Generator) gaussian(stddev time.Duration) time.Duration {
	if stddev == 0 {
		return 0
	}
	return time.Duration(gen.rng.NormFloat64() * float64(stddev))
}

// Timeline emits events for every class over the given number of
// cycles, ordered by timestamp. Events target the midpoints of each
// class's own windows, displaced by jitter; misfires land anywhere in
// the cycle.
func (gen *Generator) Timeline(g *gcl.GateControlList, cycles int) []Event {
	gen.mu.Lock()
	defer gen.mu.Unlock()

	base := g.BaseTime()
	if base.IsZero() {
		base = time.Unix(0, 0)
	}
	cycleTime := g.CycleTime()

	var out []Event
	for c := 0; c < cycles; c++ {
		cycleStart := base.Add(time.Duration(c) * cycleTime)
		for _, w := range g.Windows() {
			for i := 0; i < gen.cfg.EventsPerWindow; i++ {
				ev := Event{TrafficClass: w.TrafficClass}
				if gen.rng.Float64() < gen.cfg.MisfireProb {
					ev.Misfire = true
					ev.Timestamp = cycleStart.Add(time.Duration(gen.rng.Int63n(int64(cycleTime))))
				} else {
					// Spread events evenly, then jitter.
					offset := w.StartOffset + w.Duration*time.Duration(2*i+1)/time.Duration(2*gen.cfg.EventsPerWindow)
					ev.Timestamp = cycleStart.Add(offset + gen.gaussian(gen.cfg.JitterStdDev))
				}
				out = append(out, ev)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Stream drives one worker per traffic class, each feeding its share
// of the timeline into the sink. It returns once every worker drains
// or the context is canceled.
func (gen *Generator) Stream(ctx context.Context, g *gcl.GateControlList, cycles int, sink Sink) error {
	timeline := gen.Timeline(g, cycles)

	byClass := make(map[int][]Event)
	for _, ev := range timeline {
		byClass[ev.TrafficClass] = append(byClass[ev.TrafficClass], ev)
	}

	var wg sync.WaitGroup
	for _, events := range byClass {
		wg.Add(1)
		go func(events []Event) {
			defer wg.Done()
			for _, ev := range events {
				select {
				case <-ctx.Done():
					return
				default:
				}
				sink(ev.TrafficClass, ev.Timestamp)
			}
		}(events)
	}
	wg.Wait()
	return ctx.Err()
}

// BoundaryProbe observes gate transitions with gaussian measurement
// noise, modelling a hardware timestamping unit watching the egress
// port.
type BoundaryProbe struct {
	sigma time.Duration
	mu    sync.Mutex
	rng   *rand.Rand
}

func NewBoundaryProbe(sigma time.Duration, seed int64) *BoundaryProbe {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &BoundaryProbe{sigma: sigma, rng: rand.New(rand.NewSource(seed))}
}

// Observe records one sample per window start per cycle into the
// collector. The observed instant is the scheduled one displaced by
// zero-mean gaussian noise.
func (p *BoundaryProbe) Observe(g *gcl.GateControlList, cycles int, c *latency.Collector) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := g.BaseTime()
	if base.IsZero() {
		base = time.Unix(0, 0)
	}

	n := 0
	for i := 0; i < cycles; i++ {
		cycleStart := base.Add(time.Duration(i) * g.CycleTime())
		for _, w := range g.Windows() {
			expected := cycleStart.Add(w.StartOffset)
			noise := time.Duration(0)
			if p.sigma > 0 {
				noise = time.Duration(p.rng.NormFloat64() * float64(p.sigma))
			}
			c.Add(w.TrafficClass, expected, expected.Add(noise))
			n++
		}
	}
	return n
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/heimdall_tsn/internal/cbs"
	"github.com/friendsincode/heimdall_tsn/internal/gcl"
)

// Duration accepts Go duration strings in YAML ("25ms", "1.5s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// ScheduleEntry is one gate window declaration.
type ScheduleEntry struct {
	TrafficClass int      `yaml:"traffic_class"`
	Duration     Duration `yaml:"duration"`
	// GateState is an optional 8-bit mask; zero opens only the class's
	// own gate.
	GateState uint8 `yaml:"gate_state,omitempty"`
}

// ScheduleSpec is the on-disk gate control list document.
type ScheduleSpec struct {
	CycleTime Duration        `yaml:"cycle_time"`
	BaseTime  time.Time       `yaml:"base_time,omitempty"`
	Entries   []ScheduleEntry `yaml:"entries"`
	// Shapers configures credit-based shaping for classes that use it.
	Shapers []cbs.Config `yaml:"shapers,omitempty"`
}

// Build compiles the document into a gate control list.
func (s *ScheduleSpec) Build(opts ...gcl.Option) (*gcl.GateControlList, error) {
	entries := make([]gcl.Entry, len(s.Entries))
	for i, e := range s.Entries {
		entries[i] = gcl.Entry{
			TrafficClass: e.TrafficClass,
			Duration:     e.Duration.Std(),
			GateState:    e.GateState,
		}
	}
	if !s.BaseTime.IsZero() {
		opts = append(opts, gcl.WithBaseTime(s.BaseTime))
	}
	return gcl.New(entries, s.CycleTime.Std(), opts...)
}

// LoadSchedule reads and compiles a YAML schedule file.
func LoadSchedule(path string, opts ...gcl.Option) (*gcl.GateControlList, *ScheduleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read schedule file: %w", err)
	}
	var spec ScheduleSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, nil, fmt.Errorf("parse schedule file %s: %w", path, err)
	}
	g, err := spec.Build(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule file %s: %w", path, err)
	}
	return g, &spec, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gcl

import (
	"errors"
	"testing"
	"time"
)

func evenSchedule(t *testing.T, opts ...Option) *GateControlList {
	t.Helper()

	entries := make([]Entry, 0, 8)
	for tc := 0; tc < 8; tc++ {
		entries = append(entries, Entry{TrafficClass: tc, Duration: 25 * time.Millisecond})
	}
	g, err := New(entries, 200*time.Millisecond, opts...)
	if err != nil {
		t.Fatalf("build schedule: %v", err)
	}
	return g
}

func TestNewComputesRunningOffsets(t *testing.T) {
	g := evenSchedule(t)

	windows := g.Windows()
	if len(windows) != 8 {
		t.Fatalf("expected 8 windows, got %d", len(windows))
	}
	for i, w := range windows {
		wantStart := time.Duration(i) * 25 * time.Millisecond
		if w.StartOffset != wantStart {
			t.Errorf("window %d start = %v, want %v", i, w.StartOffset, wantStart)
		}
		if w.GateState != 1<<uint(i) {
			t.Errorf("window %d gate state = %08b, want bit %d", i, w.GateState, i)
		}
	}
	if !g.Tiles() {
		t.Error("even schedule should tile the cycle")
	}
}

func TestNewRejectsOverflow(t *testing.T) {
	entries := []Entry{
		{TrafficClass: 0, Duration: 150 * time.Millisecond},
		{TrafficClass: 1, Duration: 100 * time.Millisecond},
	}
	_, err := New(entries, 200*time.Millisecond)
	if !errors.Is(err, ErrCycleOverflow) {
		t.Fatalf("expected ErrCycleOverflow, got %v", err)
	}
}

func TestNewStrictRejectsDuplicateClass(t *testing.T) {
	entries := []Entry{
		{TrafficClass: 2, Duration: 50 * time.Millisecond},
		{TrafficClass: 2, Duration: 50 * time.Millisecond},
	}

	if _, err := New(entries, 200*time.Millisecond); err != nil {
		t.Fatalf("duplicate class should be legal by default: %v", err)
	}

	_, err := New(entries, 200*time.Millisecond, Strict())
	if !errors.Is(err, ErrDuplicateClass) {
		t.Fatalf("expected ErrDuplicateClass, got %v", err)
	}
}

func TestNewRequireTilingRejectsGap(t *testing.T) {
	entries := []Entry{
		{TrafficClass: 0, Duration: 50 * time.Millisecond},
		{TrafficClass: 1, Duration: 50 * time.Millisecond},
	}

	g, err := New(entries, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("gapped schedule should construct: %v", err)
	}
	if g.Tiles() {
		t.Error("gapped schedule must not report tiling")
	}

	_, err = New(entries, 200*time.Millisecond, RequireTiling())
	if !errors.Is(err, ErrGap) {
		t.Fatalf("expected ErrGap, got %v", err)
	}
}

func TestNewRejectsInvalidWindows(t *testing.T) {
	cases := []struct {
		name    string
		entries []Entry
		cycle   time.Duration
	}{
		{"zero duration", []Entry{{TrafficClass: 0, Duration: 0}}, time.Second},
		{"negative class", []Entry{{TrafficClass: -1, Duration: time.Millisecond}}, time.Second},
		{"class too high", []Entry{{TrafficClass: 8, Duration: time.Millisecond}}, time.Second},
		{"empty schedule", nil, time.Second},
		{"zero cycle", []Entry{{TrafficClass: 0, Duration: time.Millisecond}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.entries, tc.cycle); !errors.Is(err, ErrInvalidWindow) {
				t.Fatalf("expected ErrInvalidWindow, got %v", err)
			}
		})
	}
}

func TestWindowsForIncludesSharedGateBits(t *testing.T) {
	entries := []Entry{
		{TrafficClass: 0, Duration: 100 * time.Millisecond, GateState: 0b00000101}, // opens TC0 and TC2
		{TrafficClass: 1, Duration: 100 * time.Millisecond},
	}
	g, err := New(entries, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("build schedule: %v", err)
	}

	if got := len(g.WindowsFor(2)); got != 1 {
		t.Errorf("TC2 should share window 0 via its gate bit, got %d windows", got)
	}
	if got := len(g.WindowsFor(3)); got != 0 {
		t.Errorf("TC3 has no window, got %d", got)
	}
}

func TestWindowBoundaryIsHalfOpen(t *testing.T) {
	w := GateWindow{TrafficClass: 2, StartOffset: 80 * time.Millisecond, Duration: 20 * time.Millisecond}

	if !w.Contains(80 * time.Millisecond) {
		t.Error("window must contain its own start")
	}
	if !w.Contains(99 * time.Millisecond) {
		t.Error("window must contain positions before End")
	}
	if w.Contains(100 * time.Millisecond) {
		t.Error("position at End belongs to the next window")
	}
}

func TestWindowsReturnsCopy(t *testing.T) {
	g := evenSchedule(t)
	ws := g.Windows()
	ws[0].TrafficClass = 7
	if g.Window(0).TrafficClass != 0 {
		t.Error("mutating the returned slice must not affect the schedule")
	}
}

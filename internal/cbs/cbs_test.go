/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cbs

import (
	"math"
	"testing"
	"time"
)

func newShaper(t *testing.T, cfg Config) *Shaper {
	t.Helper()
	s, err := NewShaper(cfg)
	if err != nil {
		t.Fatalf("new shaper: %v", err)
	}
	return s
}

// approx absorbs float64 slope arithmetic.
func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-6*math.Max(1, math.Abs(want))
}

func TestCreditAccrualAndDrain(t *testing.T) {
	s := newShaper(t, Config{TrafficClass: 2, IdleSlopeKbps: 10000, SendSlopeKbps: 90000})

	// 10 Mbps idle slope over 1ms accrues 10000 bits.
	s.Wait(time.Millisecond)
	if got := s.Credit(); !approx(got, 10000) {
		t.Fatalf("credit = %v, want 10000", got)
	}
	if !s.CanSend() {
		t.Fatal("positive credit must allow sending")
	}

	// 90 Mbps send slope over 1ms drains 90000 bits.
	s.Send(time.Millisecond)
	if got := s.Credit(); !approx(got, -80000) {
		t.Fatalf("credit = %v, want -80000", got)
	}
	if s.CanSend() {
		t.Fatal("negative credit must block sending")
	}
}

func TestRecoveryTime(t *testing.T) {
	s := newShaper(t, Config{TrafficClass: 2, IdleSlopeKbps: 10000, SendSlopeKbps: 90000})
	s.Send(time.Millisecond) // -90000 bits

	// 90000 bits at 10 Mbps takes 9ms to recover.
	got := s.RecoveryTime()
	if got < 9*time.Millisecond-time.Microsecond || got > 9*time.Millisecond+time.Microsecond {
		t.Errorf("recovery = %v, want ~9ms", got)
	}
	s.Wait(10 * time.Millisecond)
	if !s.CanSend() {
		t.Errorf("credit after recovery wait = %v", s.Credit())
	}
	if got := s.RecoveryTime(); got != 0 {
		t.Errorf("recovered shaper reports %v", got)
	}
}

func TestDrainZeroesOnlyPositiveCredit(t *testing.T) {
	s := newShaper(t, Config{TrafficClass: 3, IdleSlopeKbps: 5000, SendSlopeKbps: 95000})

	s.Wait(2 * time.Millisecond)
	s.Drain()
	if got := s.Credit(); got != 0 {
		t.Errorf("drained credit = %v, want 0", got)
	}

	s.Send(time.Millisecond)
	s.Drain()
	if got := s.Credit(); got >= 0 {
		t.Errorf("drain must not forgive debt, credit = %v", got)
	}
}

func TestHiCreditCap(t *testing.T) {
	s := newShaper(t, Config{TrafficClass: 2, IdleSlopeKbps: 10000, SendSlopeKbps: 90000, HiCreditBits: 5000})

	s.Wait(10 * time.Millisecond)
	if got := s.Credit(); got != 5000 {
		t.Errorf("credit = %v, want capped at 5000", got)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero idle slope", Config{TrafficClass: 2, SendSlopeKbps: 1000}},
		{"zero send slope", Config{TrafficClass: 2, IdleSlopeKbps: 1000}},
		{"negative class", Config{TrafficClass: -1, IdleSlopeKbps: 1000, SendSlopeKbps: 1000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewShaper(tc.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

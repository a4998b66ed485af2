/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cbs models a credit-based shaper for the audio/video traffic
// classes that ride alongside the gated ones. Credit accrues at the
// idle slope while frames wait, drains at the send slope during
// transmission, and a class may start sending only at non-negative
// credit.
package cbs

import (
	"fmt"
	"time"
)

// Config sets the per-class shaper slopes in kilobits per second. The
// send slope is stored positive and applied as drain.
type Config struct {
	TrafficClass  int   `json:"traffic_class" yaml:"traffic_class"`
	IdleSlopeKbps int64 `json:"idle_slope_kbps" yaml:"idle_slope_kbps"`
	SendSlopeKbps int64 `json:"send_slope_kbps" yaml:"send_slope_kbps"`
	// HiCredit caps accumulation; zero means uncapped.
	HiCreditBits int64 `json:"hi_credit_bits" yaml:"hi_credit_bits"`
}

func (c Config) validate() error {
	if c.TrafficClass < 0 {
		return fmt.Errorf("negative traffic class %d", c.TrafficClass)
	}
	if c.IdleSlopeKbps <= 0 {
		return fmt.Errorf("class %d: idle slope must be positive, got %d", c.TrafficClass, c.IdleSlopeKbps)
	}
	if c.SendSlopeKbps <= 0 {
		return fmt.Errorf("class %d: send slope must be positive, got %d", c.TrafficClass, c.SendSlopeKbps)
	}
	return nil
}

// Shaper tracks credit for one traffic class. It is not safe for
// concurrent use; each class owner drives its own shaper.
type Shaper struct {
	cfg    Config
	credit float64 // bits
}

func NewShaper(cfg Config) (*Shaper, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("cbs config: %w", err)
	}
	return &Shaper{cfg: cfg}, nil
}

// Credit returns the current credit in bits.
func (s *Shaper) Credit() float64 { return s.credit }

// CanSend reports whether the class may begin a transmission.
func (s *Shaper) CanSend() bool { return s.credit >= 0 }

// Wait accrues credit at the idle slope for d while a frame is queued
// but the class is blocked.
func (s *Shaper) Wait(d time.Duration) {
	s.credit += float64(s.cfg.IdleSlopeKbps) * 1000 * d.Seconds()
	if s.cfg.HiCreditBits > 0 && s.credit > float64(s.cfg.HiCreditBits) {
		s.credit = float64(s.cfg.HiCreditBits)
	}
}

// Send drains credit at the send slope for the duration of a
// transmission. Credit may go negative; the class then yields until
// idle accrual recovers it.
func (s *Shaper) Send(d time.Duration) {
	s.credit -= float64(s.cfg.SendSlopeKbps) * 1000 * d.Seconds()
}

// Drain zeroes positive credit when the queue empties, the standard
// rule that stops an idle class from banking bandwidth.
func (s *Shaper) Drain() {
	if s.credit > 0 {
		s.credit = 0
	}
}

// RecoveryTime returns how long the class must wait before it may send
// again, zero when it already can.
func (s *Shaper) RecoveryTime() time.Duration {
	if s.credit >= 0 {
		return 0
	}
	seconds := -s.credit / (float64(s.cfg.IdleSlopeKbps) * 1000)
	return time.Duration(seconds * float64(time.Second))
}

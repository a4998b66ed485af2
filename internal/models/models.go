/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// RunStatus tracks a validation run through its lifecycle.
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// Run is one validation campaign: a synthetic workload driven against
// the active gate control list, with its aggregate outcome.
type Run struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	ScheduleID string    `gorm:"type:uuid;index" json:"schedule_id"`
	Status     RunStatus `gorm:"type:varchar(16);index" json:"status"`

	// Workload parameters
	Cycles          int     `json:"cycles"`
	Seed            int64   `json:"seed"`
	EventsPerWindow int     `json:"events_per_window"`
	JitterStdDevNs  int64   `json:"jitter_stddev_ns"`
	MisfireProb     float64 `json:"misfire_prob"`
	ProbeSigmaNs    int64   `json:"probe_sigma_ns"`

	// Aggregates, filled on completion
	Events         int64   `json:"events"`
	Violations     int64   `json:"violations"`
	ViolationRate  float64 `json:"violation_rate"`
	MaxMagnitudeNs int64   `json:"max_magnitude_ns"`
	MeetsBound     bool    `json:"meets_bound"`

	ReportKey string `json:"report_key,omitempty"`
	Error     string `gorm:"type:text" json:"error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Violation is one persisted classification from a run's log.
type Violation struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	RunID         string    `gorm:"type:uuid;index" json:"run_id"`
	TrafficClass  int       `gorm:"index" json:"traffic_class"`
	ExpectedClass int       `json:"expected_class"`
	Outcome       string    `gorm:"type:varchar(16);index" json:"outcome"`
	Timestamp     time.Time `json:"timestamp"`
	MagnitudeNs   *int64    `json:"magnitude_ns,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// LatencySummary persists a run's switching latency statistics.
type LatencySummary struct {
	RunID      string `gorm:"type:uuid;primaryKey" json:"run_id"`
	Count      int    `json:"count"`
	MeanNs     int64  `json:"mean_ns"`
	StdDevNs   int64  `json:"stddev_ns"`
	MaxAbsNs   int64  `json:"max_abs_ns"`
	P50Ns      int64  `json:"p50_ns"`
	P95Ns      int64  `json:"p95_ns"`
	P99Ns      int64  `json:"p99_ns"`
	BoundNs    int64  `json:"bound_ns"`
	MeetsBound bool   `json:"meets_bound"`

	CreatedAt time.Time `json:"created_at"`
}

// Schedule stores a named gate control list document for audit and
// re-installation. Document is the original YAML.
type Schedule struct {
	ID          string     `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string     `gorm:"uniqueIndex" json:"name"`
	CycleTimeNs int64      `json:"cycle_time_ns"`
	BaseTime    *time.Time `json:"base_time,omitempty"`
	Document    string     `gorm:"type:text" json:"document"`
	Installed   bool       `gorm:"index" json:"installed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookTarget is an outbound HTTP endpoint subscribed to events.
type WebhookTarget struct {
	ID     string `gorm:"type:uuid;primaryKey" json:"id"`
	Name   string `json:"name"`
	URL    string `gorm:"type:varchar(2048)" json:"url"`
	Secret string `json:"-"` // HMAC-SHA256 signing key, empty disables signing
	// Events is a comma-separated list of event types; empty means all.
	Events string `gorm:"type:varchar(512)" json:"events"`
	Active bool   `gorm:"index" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookLog records one delivery attempt.
type WebhookLog struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID   string    `gorm:"type:uuid;index" json:"target_id"`
	Event      string    `gorm:"type:varchar(64)" json:"event"`
	StatusCode int       `json:"status_code"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for all sensitive operations.
const (
	AuditActionAPIKeyCreate    AuditAction = "apikey.create"
	AuditActionAPIKeyRevoke    AuditAction = "apikey.revoke"
	AuditActionScheduleInstall AuditAction = "schedule.install"
	AuditActionRunStart        AuditAction = "run.start"
	AuditActionRunComplete     AuditAction = "run.complete"
	AuditActionRunFailed       AuditAction = "run.failed"
	AuditActionLatencyBreach   AuditAction = "latency.breach"
	AuditActionGuardBandSweep  AuditAction = "guardband.sweep"
)

// AuditLog records sensitive operations for security and compliance.
type AuditLog struct {
	ID           string         `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp    time.Time      `gorm:"index:idx_audit_timestamp;not null" json:"timestamp"`
	UserID       *string        `gorm:"type:uuid;index:idx_audit_user" json:"user_id,omitempty"` // NULL for system actions
	Action       AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null" json:"action"`
	ResourceType string         `gorm:"type:varchar(64)" json:"resource_type,omitempty"` // "schedule", "run", "apikey"
	ResourceID   string         `gorm:"type:uuid" json:"resource_id,omitempty"`
	Details      map[string]any `gorm:"type:jsonb;serializer:json" json:"details,omitempty"`
	IPAddress    string         `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// User represents an authenticated account.
type User struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex" json:"email"`
	Password  string    `json:"-"`
	Role      string    `gorm:"type:varchar(16)" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKey is a hashed machine credential.
type APIKey struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     string     `gorm:"type:uuid;index" json:"user_id"`
	Name       string     `json:"name"`
	KeyHash    string     `gorm:"uniqueIndex" json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsExpired reports whether the key is past its expiry.
func (k *APIKey) IsExpired() bool {
	return k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt)
}

// IsRevoked reports whether the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to relevant events and logs them as audit entries.
func (s *Service) Start(ctx context.Context) {
	scheduleSwap := s.bus.Subscribe(events.EventScheduleSwap)
	runStart := s.bus.Subscribe(events.EventRunStart)
	runComplete := s.bus.Subscribe(events.EventRunComplete)
	runFailed := s.bus.Subscribe(events.EventRunFailed)
	latencyBreach := s.bus.Subscribe(events.EventLatencyBreach)
	guardBandSweep := s.bus.Subscribe(events.EventGuardBandSweep)

	defer func() {
		s.bus.Unsubscribe(events.EventScheduleSwap, scheduleSwap)
		s.bus.Unsubscribe(events.EventRunStart, runStart)
		s.bus.Unsubscribe(events.EventRunComplete, runComplete)
		s.bus.Unsubscribe(events.EventRunFailed, runFailed)
		s.bus.Unsubscribe(events.EventLatencyBreach, latencyBreach)
		s.bus.Unsubscribe(events.EventGuardBandSweep, guardBandSweep)
	}()

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return

		case payload := <-scheduleSwap:
			s.logAuditEntry(ctx, models.AuditActionScheduleInstall, "schedule", "schedule_id", payload)

		case payload := <-runStart:
			s.logAuditEntry(ctx, models.AuditActionRunStart, "run", "run_id", payload)

		case payload := <-runComplete:
			s.logAuditEntry(ctx, models.AuditActionRunComplete, "run", "run_id", payload)

		case payload := <-runFailed:
			s.logAuditEntry(ctx, models.AuditActionRunFailed, "run", "run_id", payload)

		case payload := <-latencyBreach:
			s.logAuditEntry(ctx, models.AuditActionLatencyBreach, "run", "run_id", payload)

		case payload := <-guardBandSweep:
			s.logAuditEntry(ctx, models.AuditActionGuardBandSweep, "run", "run_id", payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, resourceType, idKey string, payload events.Payload) {
	entry := &models.AuditLog{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		Action:       action,
		ResourceType: resourceType,
		Details:      make(map[string]any),
	}

	if userID, ok := payload["user_id"].(string); ok && userID != "" {
		entry.UserID = &userID
	}
	if resourceID, ok := payload[idKey].(string); ok {
		entry.ResourceID = resourceID
	}
	if ipAddress, ok := payload["ip_address"].(string); ok {
		entry.IPAddress = ipAddress
	}

	for k, v := range payload {
		switch k {
		case "user_id", idKey, "ip_address":
			// Already extracted
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	UserID    *string
	Action    *models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs with filters, most recent first.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

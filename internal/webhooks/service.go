/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks delivers events to external HTTP endpoints with
// optional HMAC-SHA256 signing.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/models"
)

// WebhookPayload is the payload sent to webhook endpoints.
type WebhookPayload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Service handles webhook delivery.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
	client *http.Client
}

// NewService creates a new webhook service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start begins listening for events to trigger webhooks.
func (s *Service) Start(ctx context.Context) {
	gateViolation := s.bus.Subscribe(events.EventGateViolation)
	runComplete := s.bus.Subscribe(events.EventRunComplete)
	runFailed := s.bus.Subscribe(events.EventRunFailed)
	latencyBreach := s.bus.Subscribe(events.EventLatencyBreach)

	defer func() {
		s.bus.Unsubscribe(events.EventGateViolation, gateViolation)
		s.bus.Unsubscribe(events.EventRunComplete, runComplete)
		s.bus.Unsubscribe(events.EventRunFailed, runFailed)
		s.bus.Unsubscribe(events.EventLatencyBreach, latencyBreach)
	}()

	s.logger.Info().Msg("webhook service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook service stopping")
			return

		case payload := <-gateViolation:
			s.fireWebhooks(ctx, string(events.EventGateViolation), payload)

		case payload := <-runComplete:
			s.fireWebhooks(ctx, string(events.EventRunComplete), payload)

		case payload := <-runFailed:
			s.fireWebhooks(ctx, string(events.EventRunFailed), payload)

		case payload := <-latencyBreach:
			s.fireWebhooks(ctx, string(events.EventLatencyBreach), payload)
		}
	}
}

// fireWebhooks sends webhooks for a given event.
func (s *Service) fireWebhooks(ctx context.Context, eventType string, payload events.Payload) {
	var targets []models.WebhookTarget
	if err := s.db.Where("active = ?", true).Find(&targets).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch webhook targets")
		return
	}

	for _, target := range targets {
		if !s.targetHandlesEvent(target, eventType) {
			continue
		}
		go s.sendWebhook(ctx, target, eventType, payload)
	}
}

// targetHandlesEvent checks if a target is subscribed to an event type.
func (s *Service) targetHandlesEvent(target models.WebhookTarget, eventType string) bool {
	if target.Events == "" {
		return true // Default: handle all events
	}
	for _, e := range strings.Split(target.Events, ",") {
		if strings.TrimSpace(e) == eventType {
			return true
		}
	}
	return false
}

// sendWebhook sends a single webhook request.
func (s *Service) sendWebhook(ctx context.Context, target models.WebhookTarget, eventType string, data map[string]any) {
	payload := WebhookPayload{
		Event:     eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", target.ID).Msg("failed to marshal webhook payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", target.ID).Msg("failed to create webhook request")
		s.logDelivery(target, eventType, http.StatusInternalServerError, err.Error())
		return
	}
	s.setHeaders(req, body, target, eventType)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", target.ID).Str("url", target.URL).Msg("webhook delivery failed")
		s.logDelivery(target, eventType, 0, err.Error())
		return
	}
	defer resp.Body.Close()

	s.logDelivery(target, eventType, resp.StatusCode, "")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug().Str("webhook", target.ID).Str("event", eventType).Int("status", resp.StatusCode).Msg("webhook delivered")
	} else {
		s.logger.Warn().Str("webhook", target.ID).Str("event", eventType).Int("status", resp.StatusCode).Msg("webhook returned error status")
	}
}

func (s *Service) setHeaders(req *http.Request, body []byte, target models.WebhookTarget, eventType string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Heimdall-TSN-Webhook/1.0")
	req.Header.Set("X-Heimdall-Event", eventType)
	req.Header.Set("X-Heimdall-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if target.Secret != "" {
		req.Header.Set("X-Heimdall-Signature", s.signPayload(body, target.Secret))
	}
}

// signPayload creates an HMAC-SHA256 signature.
func (s *Service) signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// logDelivery logs a webhook delivery attempt.
func (s *Service) logDelivery(target models.WebhookTarget, eventType string, statusCode int, errorMsg string) {
	log := &models.WebhookLog{
		ID:         uuid.NewString(),
		TargetID:   target.ID,
		Event:      eventType,
		StatusCode: statusCode,
		Error:      errorMsg,
	}

	if err := s.db.Create(log).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to log webhook delivery")
	}
}

// TestWebhook sends a test payload to a target and reports the outcome.
func (s *Service) TestWebhook(ctx context.Context, target *models.WebhookTarget) error {
	payload := WebhookPayload{
		Event:     "test",
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"message": "test delivery",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req, body, *target, "test")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/models"
)

type webhookCreateRequest struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Secret string   `json:"secret,omitempty"`
	Events []string `json:"events,omitempty"`
	Active *bool    `json:"active,omitempty"`
}

func (a *API) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	var req webhookCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid_url")
		return
	}

	known := make(map[string]bool, len(events.Types()))
	for _, t := range events.Types() {
		known[string(t)] = true
	}
	for _, e := range req.Events {
		if !known[e] {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unknown_event", "detail": e})
			return
		}
	}

	target := &models.WebhookTarget{
		ID:     uuid.NewString(),
		Name:   req.Name,
		URL:    req.URL,
		Secret: req.Secret,
		Events: strings.Join(req.Events, ","),
		Active: true,
	}
	if req.Active != nil {
		target.Active = *req.Active
	}

	if err := a.db.Create(target).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "store_failed")
		return
	}
	writeJSON(w, http.StatusCreated, target)
}

func (a *API) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	var targets []models.WebhookTarget
	if err := a.db.Order("created_at DESC").Find(&targets).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (a *API) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	res := a.db.Delete(&models.WebhookTarget{}, "id = ?", chi.URLParam(r, "webhookID"))
	if res.Error != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}
	if res.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	if a.webhooks == nil {
		writeError(w, http.StatusNotFound, "webhooks_disabled")
		return
	}

	var target models.WebhookTarget
	if err := a.db.First(&target, "id = ?", chi.URLParam(r, "webhookID")).Error; err != nil {
		notFoundOr500(w, err)
		return
	}

	if err := a.webhooks.TestWebhook(r.Context(), &target); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "delivery_failed", "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func (a *API) handleWebhookLogs(w http.ResponseWriter, r *http.Request) {
	var logs []models.WebhookLog
	if err := a.db.Where("target_id = ?", chi.URLParam(r, "webhookID")).
		Order("created_at DESC").Limit(100).Find(&logs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

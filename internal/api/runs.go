/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/heimdall_tsn/internal/models"
	"github.com/friendsincode/heimdall_tsn/internal/run"
)

type runStartRequest struct {
	Cycles          int     `json:"cycles"`
	Seed            int64   `json:"seed"`
	EventsPerWindow int     `json:"events_per_window"`
	JitterStdDevNs  int64   `json:"jitter_stddev_ns"`
	MisfireProb     float64 `json:"misfire_prob"`
	ProbeSigmaNs    int64   `json:"probe_sigma_ns"`
	LatencyBoundNs  int64   `json:"latency_bound_ns"`
	GuardBandsNs    []int64 `json:"guard_bands_ns,omitempty"`
	RecordValid     bool    `json:"record_valid"`
}

func (a *API) handleRunStart(w http.ResponseWriter, r *http.Request) {
	var req runStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	params := run.Params{
		Cycles:          req.Cycles,
		Seed:            req.Seed,
		EventsPerWindow: req.EventsPerWindow,
		JitterStdDev:    time.Duration(req.JitterStdDevNs),
		MisfireProb:     req.MisfireProb,
		ProbeSigma:      time.Duration(req.ProbeSigmaNs),
		LatencyBound:    time.Duration(req.LatencyBoundNs),
		RecordValid:     req.RecordValid,
	}
	if params.LatencyBound <= 0 {
		params.LatencyBound = a.latencyBound
	}
	for _, ns := range req.GuardBandsNs {
		params.GuardBands = append(params.GuardBands, time.Duration(ns))
	}

	scheduleID := a.installedScheduleID(r.Context())
	// The campaign outlives this request; a canceled request context
	// would kill it the moment the 202 is written. Runner.Stop remains
	// the cancellation path.
	runID, err := a.runner.Start(context.WithoutCancel(r.Context()), scheduleID, params)
	if err != nil {
		if errors.Is(err, run.ErrRunInProgress) {
			writeError(w, http.StatusConflict, "run_in_progress")
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_params", "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (a *API) installedScheduleID(ctx context.Context) string {
	if a.cache != nil {
		if rec, ok := a.cache.GetInstalledSchedule(ctx); ok {
			return rec.ID
		}
	}
	if a.db == nil {
		return ""
	}
	var rec models.Schedule
	if err := a.db.Where("installed = ?", true).First(&rec).Error; err != nil {
		return ""
	}
	if a.cache != nil {
		_ = a.cache.SetInstalledSchedule(ctx, &rec)
	}
	return rec.ID
}

func (a *API) handleRunsList(w http.ResponseWriter, r *http.Request) {
	var runs []models.Run
	q := a.db.Order("created_at DESC").Limit(100)
	if status := r.URL.Query().Get("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&runs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) handleRunGet(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if a.cache != nil {
		if cached, ok := a.cache.GetRun(r.Context(), runID); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	var rec models.Run
	if err := a.db.First(&rec, "id = ?", runID).Error; err != nil {
		notFoundOr500(w, err)
		return
	}
	if a.cache != nil && (rec.Status == models.RunComplete || rec.Status == models.RunFailed) {
		_ = a.cache.SetRun(r.Context(), &rec)
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleRunViolations(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	var rows []models.Violation
	if err := a.db.Where("run_id = ?", runID).Order("timestamp").Limit(1000).Find(&rows).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) handleRunLatency(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if a.cache != nil {
		if cached, ok := a.cache.GetLatencySummary(r.Context(), runID); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	var rec models.LatencySummary
	if err := a.db.First(&rec, "run_id = ?", runID).Error; err != nil {
		notFoundOr500(w, err)
		return
	}
	if a.cache != nil {
		_ = a.cache.SetLatencySummary(r.Context(), &rec)
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleRunStop(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if a.runner.Active() != runID {
		writeError(w, http.StatusConflict, "run_not_active")
		return
	}
	a.runner.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "stopping"})
}

// handleRunReport serves the archived report artifact for a completed
// run. Default is the JSON rendering; ?format=markdown returns the
// human-readable one.
func (a *API) handleRunReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var rec models.Run
	if err := a.db.First(&rec, "id = ?", runID).Error; err != nil {
		notFoundOr500(w, err)
		return
	}
	if rec.ReportKey == "" || a.store == nil {
		writeError(w, http.StatusNotFound, "report_not_available")
		return
	}

	key := rec.ReportKey
	contentType := "application/json"
	if r.URL.Query().Get("format") == "markdown" {
		key = strings.TrimSuffix(key, ".json") + ".md"
		contentType = "text/markdown; charset=utf-8"
	}

	data, err := a.store.Get(r.Context(), key)
	if err != nil {
		a.logger.Error().Err(err).Str("key", key).Msg("fetch report artifact")
		writeError(w, http.StatusNotFound, "report_not_available")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/gcl"
	"github.com/friendsincode/heimdall_tsn/internal/models"
	"github.com/friendsincode/heimdall_tsn/internal/telemetry"
)

type scheduleEntryRequest struct {
	TrafficClass int   `json:"traffic_class"`
	DurationNs   int64 `json:"duration_ns"`
	GateState    uint8 `json:"gate_state,omitempty"`
}

type scheduleInstallRequest struct {
	Name          string                 `json:"name"`
	CycleTimeNs   int64                  `json:"cycle_time_ns"`
	BaseTime      *time.Time             `json:"base_time,omitempty"`
	Entries       []scheduleEntryRequest `json:"entries"`
	Strict        bool                   `json:"strict,omitempty"`
	RequireTiling bool                   `json:"require_tiling,omitempty"`
}

type scheduleResponse struct {
	CycleTime time.Duration    `json:"cycle_time"`
	BaseTime  time.Time        `json:"base_time"`
	Windows   []gcl.GateWindow `json:"windows"`
	Swaps     int64            `json:"swaps"`
}

func (a *API) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	g := a.sched.Active()
	writeJSON(w, http.StatusOK, scheduleResponse{
		CycleTime: g.CycleTime(),
		BaseTime:  g.BaseTime(),
		Windows:   g.Windows(),
		Swaps:     a.sched.Swaps(),
	})
}

func (a *API) handleScheduleInstall(w http.ResponseWriter, r *http.Request) {
	var req scheduleInstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(req.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "no_entries")
		return
	}

	entries := make([]gcl.Entry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = gcl.Entry{
			TrafficClass: e.TrafficClass,
			Duration:     time.Duration(e.DurationNs),
			GateState:    e.GateState,
		}
	}
	var opts []gcl.Option
	if req.BaseTime != nil {
		opts = append(opts, gcl.WithBaseTime(*req.BaseTime))
	}
	if req.Strict {
		opts = append(opts, gcl.Strict())
	}
	if req.RequireTiling {
		opts = append(opts, gcl.RequireTiling())
	}

	g, err := gcl.New(entries, time.Duration(req.CycleTimeNs), opts...)
	if err != nil {
		a.logger.Warn().Err(err).Msg("schedule rejected")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_schedule", "detail": err.Error()})
		return
	}

	doc, _ := json.Marshal(req)
	rec := models.Schedule{
		ID:          uuid.NewString(),
		Name:        req.Name,
		CycleTimeNs: req.CycleTimeNs,
		BaseTime:    req.BaseTime,
		Document:    string(doc),
		Installed:   true,
	}
	if a.db != nil {
		if err := a.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Schedule{}).Where("installed = ?", true).
				Update("installed", false).Error; err != nil {
				return err
			}
			return tx.Create(&rec).Error
		}); err != nil {
			a.logger.Error().Err(err).Msg("persist schedule")
			writeError(w, http.StatusInternalServerError, "persist_failed")
			return
		}
	}

	a.sched.Swap(g)
	telemetry.ScheduleSwapsTotal.Inc()
	if a.cache != nil {
		_ = a.cache.InvalidateInstalledSchedule(r.Context())
	}
	if a.bus != nil {
		a.bus.Publish(events.EventScheduleSwap, events.Payload{
			"schedule_id": rec.ID,
			"name":        rec.Name,
			"cycle_time":  g.CycleTime(),
			"windows":     g.Len(),
		})
	}
	a.logger.Info().Str("schedule_id", rec.ID).Str("name", rec.Name).Msg("schedule installed")

	writeJSON(w, http.StatusCreated, map[string]any{"id": rec.ID, "windows": g.Len()})
}

func (a *API) handleScheduleHistory(w http.ResponseWriter, r *http.Request) {
	var records []models.Schedule
	if err := a.db.Order("created_at DESC").Limit(100).Find(&records).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *API) handleScheduleResolve(w http.ResponseWriter, r *http.Request) {
	ts := time.Now()
	if raw := r.URL.Query().Get("t"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timestamp")
			return
		}
		ts = parsed
	}

	res, ok := a.sched.Resolve(ts)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   true,
		"window":   res.Window,
		"position": res.Position,
	})
}

func notFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeError(w, http.StatusInternalServerError, "query_failed")
}

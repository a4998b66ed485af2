/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/guardband"
	"github.com/friendsincode/heimdall_tsn/internal/validator"
)

type validateRequest struct {
	TrafficClass int       `json:"traffic_class"`
	Timestamp    time.Time `json:"timestamp"`
}

func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	res := a.validator.Validate(req.TrafficClass, req.Timestamp)
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome":        res.Outcome,
		"expected_class": res.ExpectedClass,
		"magnitude":      res.Magnitude,
	})
}

func (a *API) handleViolationsList(w http.ResponseWriter, r *http.Request) {
	records := a.validator.Records()

	if raw := r.URL.Query().Get("class"); raw != "" {
		tc, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_class")
			return
		}
		filtered := records[:0]
		for _, rec := range records {
			if rec.TrafficClass == tc {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if raw := r.URL.Query().Get("outcome"); raw != "" {
		filtered := make([]validator.ViolationRecord, 0, len(records))
		for _, rec := range records {
			if string(rec.Outcome) == raw {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = parsed
	}
	// Newest last in the log; return the tail.
	if len(records) > limit {
		records = records[len(records)-limit:]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (a *API) handleViolationTallies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.validator.Tallies())
}

func (a *API) handleViolationsReset(w http.ResponseWriter, r *http.Request) {
	a.validator.Reset()
	w.WriteHeader(http.StatusNoContent)
}

type latencySampleRequest struct {
	TrafficClass int       `json:"traffic_class"`
	Expected     time.Time `json:"expected"`
	Observed     time.Time `json:"observed"`
}

func (a *API) handleLatencyIngest(w http.ResponseWriter, r *http.Request) {
	var req latencySampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Expected.IsZero() || req.Observed.IsZero() {
		writeError(w, http.StatusBadRequest, "missing_timestamps")
		return
	}

	sample := a.collector.Add(req.TrafficClass, req.Expected, req.Observed)
	if a.bus != nil {
		a.bus.Publish(events.EventLatencySample, events.Payload{
			"traffic_class": sample.TrafficClass,
			"delta":         sample.Delta,
		})
	}
	writeJSON(w, http.StatusAccepted, sample)
}

func (a *API) handleLatencySummary(w http.ResponseWriter, r *http.Request) {
	bound := a.latencyBound
	if raw := r.URL.Query().Get("bound"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_bound")
			return
		}
		bound = parsed
	}

	summary := a.collector.Summarize()
	resp := map[string]any{
		"summary":     summary,
		"bound":       bound,
		"meets_bound": summary.MeetsBound(bound),
	}
	// ?p=99.9 adds an arbitrary percentile alongside the fixed ones.
	if raw := r.URL.Query().Get("p"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p < 0 || p > 100 {
			writeError(w, http.StatusBadRequest, "invalid_percentile")
			return
		}
		resp["percentile"] = p
		resp["percentile_ns"] = int64(a.collector.Percentile(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

type guardBandRequest struct {
	GuardsNs []int64 `json:"guards_ns"`
	// JitterNs overrides the collector's observed deltas.
	JitterNs []int64 `json:"jitter_ns,omitempty"`
}

func (a *API) handleGuardBandAnalyze(w http.ResponseWriter, r *http.Request) {
	var req guardBandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(req.GuardsNs) == 0 {
		writeError(w, http.StatusBadRequest, "no_guards")
		return
	}

	guards := make([]time.Duration, len(req.GuardsNs))
	for i, ns := range req.GuardsNs {
		guards[i] = time.Duration(ns)
	}

	var jitter []time.Duration
	if len(req.JitterNs) > 0 {
		jitter = make([]time.Duration, len(req.JitterNs))
		for i, ns := range req.JitterNs {
			jitter[i] = time.Duration(ns)
		}
	} else {
		for _, s := range a.collector.Samples() {
			jitter = append(jitter, s.Delta)
		}
	}

	analyses, err := guardband.Sweep(a.sched.Active(), guards, jitter)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_guard", "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, analyses)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build integration

// Package integration exercises the full server stack against an
// in-memory database: schedule loading, the HTTP API, a complete
// transmission campaign, and report generation.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_tsn/internal/auth"
	"github.com/friendsincode/heimdall_tsn/internal/config"
	"github.com/friendsincode/heimdall_tsn/internal/logbuffer"
	"github.com/friendsincode/heimdall_tsn/internal/models"
	"github.com/friendsincode/heimdall_tsn/internal/server"
)

const scheduleYAML = `cycle_time: 200ms
entries:
  - traffic_class: 0
    duration: 50ms
  - traffic_class: 1
    duration: 50ms
  - traffic_class: 2
    duration: 50ms
  - traffic_class: 3
    duration: 50ms
`

func startServer(t *testing.T) (*server.Server, *httptest.Server, string) {
	t.Helper()

	dir := t.TempDir()
	schedPath := filepath.Join(dir, "schedule.yaml")
	if err := os.WriteFile(schedPath, []byte(scheduleYAML), 0o644); err != nil {
		t.Fatalf("write schedule: %v", err)
	}

	cfg := &config.Config{
		Environment:   "test",
		HTTPBind:      "127.0.0.1",
		HTTPPort:      0,
		DBBackend:     config.DatabaseSQLite,
		DBDSN:         ":memory:",
		JWTSigningKey: "integration-secret",
		MetricsBind:   "127.0.0.1:0",
		ScheduleFile:  schedPath,
		LatencyBound:  50 * time.Millisecond,
		ReportDir:     filepath.Join(dir, "reports"),
	}

	srv, err := server.New(cfg, logbuffer.New(256), zerolog.Nop())
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	ts := httptest.NewServer(srv.HTTPServer().Handler)
	t.Cleanup(ts.Close)

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{
		UserID: "integration",
		Roles:  []string{"admin"},
	}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	return srv, ts, token
}

func doJSON(t *testing.T, ts *httptest.Server, token, method, path string, body any) *http.Response {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestServerCampaign(t *testing.T) {
	srv, ts, token := startServer(t)

	// Health endpoint is public.
	resp := doJSON(t, ts, "", http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The file-loaded schedule is active.
	resp = doJSON(t, ts, token, http.MethodGet, "/api/v1/schedule", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schedule status = %d", resp.StatusCode)
	}
	sched := decode[struct {
		CycleTimeNs int64 `json:"cycle_time_ns"`
		Windows     []any `json:"windows"`
	}](t, resp)
	if len(sched.Windows) != 4 {
		t.Fatalf("windows = %d, want 4", len(sched.Windows))
	}
	if sched.CycleTimeNs != int64(200*time.Millisecond) {
		t.Errorf("cycle_time_ns = %d", sched.CycleTimeNs)
	}

	// Kick off a campaign and wait for it to finish.
	resp = doJSON(t, ts, token, http.MethodPost, "/api/v1/runs", map[string]any{
		"cycles":            20,
		"seed":              42,
		"events_per_window": 3,
		"jitter_stddev_ns":  int64(2 * time.Millisecond),
		"misfire_prob":      0.1,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("run start status = %d", resp.StatusCode)
	}
	started := decode[map[string]string](t, resp)
	runID := started["run_id"]
	if runID == "" {
		t.Fatal("missing run_id")
	}

	srv.Runner().Wait()

	resp = doJSON(t, ts, token, http.MethodGet, "/api/v1/runs/"+runID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run get status = %d", resp.StatusCode)
	}
	rec := decode[models.Run](t, resp)
	if rec.Status != models.RunComplete {
		t.Fatalf("run status = %q, error = %q", rec.Status, rec.Error)
	}
	if rec.Events == 0 {
		t.Error("run recorded no events")
	}
	if rec.ReportKey == "" {
		t.Error("run has no report")
	}

	// Latency summary for the run is available.
	resp = doJSON(t, ts, token, http.MethodGet, fmt.Sprintf("/api/v1/runs/%s/latency", runID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run latency status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The archived report is served in both renderings.
	resp = doJSON(t, ts, token, http.MethodGet, fmt.Sprintf("/api/v1/runs/%s/report", runID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run report status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("report content type = %q", ct)
	}
	resp.Body.Close()

	resp = doJSON(t, ts, token, http.MethodGet, fmt.Sprintf("/api/v1/runs/%s/report?format=markdown", runID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("markdown report status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestServerRejectsUnauthenticated(t *testing.T) {
	_, ts, _ := startServer(t)

	resp := doJSON(t, ts, "", http.MethodGet, "/api/v1/schedule", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

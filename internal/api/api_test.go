/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/heimdall_tsn/internal/auth"
	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/gcl"
	"github.com/friendsincode/heimdall_tsn/internal/latency"
	"github.com/friendsincode/heimdall_tsn/internal/logbuffer"
	"github.com/friendsincode/heimdall_tsn/internal/models"
	"github.com/friendsincode/heimdall_tsn/internal/run"
	"github.com/friendsincode/heimdall_tsn/internal/scheduler"
	"github.com/friendsincode/heimdall_tsn/internal/validator"
)

var (
	testSecret = []byte("test-secret")
	testBase   = time.Unix(1000, 0)
)

type fixture struct {
	api    *API
	router chi.Router
	db     *gorm.DB
	runner *run.Runner
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.APIKey{}, &models.Schedule{}, &models.Run{}, &models.Violation{}, &models.LatencySummary{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	entries := make([]gcl.Entry, 0, 8)
	for tc := 0; tc < 8; tc++ {
		entries = append(entries, gcl.Entry{TrafficClass: tc, Duration: 25 * time.Millisecond})
	}
	g, err := gcl.New(entries, 200*time.Millisecond, gcl.WithBaseTime(testBase))
	if err != nil {
		t.Fatalf("build schedule: %v", err)
	}

	sched := scheduler.New(g)
	bus := events.NewBus()
	v := validator.New(sched, validator.Config{}, bus, zerolog.Nop())
	collector := latency.NewCollector()
	runner := run.NewRunner(sched, db, nil, bus, zerolog.Nop())
	logBuf := logbuffer.New(100)

	a := New(db, testSecret, sched, v, collector, runner, bus, logBuf, time.Microsecond, zerolog.Nop())
	router := chi.NewRouter()
	a.Routes(router)

	token, err := auth.Issue(testSecret, auth.Claims{UserID: "u1", Roles: []string{"admin"}}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	return &fixture{api: a, router: router, db: db, runner: runner, token: token}
}

func (f *fixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+f.token)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rr.Body.String())
	}
	return out
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("health = %d", rr.Code)
	}
}

func TestProtectedEndpointsRequireAuth(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/schedule/", nil)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestScheduleGet(t *testing.T) {
	f := newFixture(t)
	rr := f.request(t, http.MethodGet, "/api/v1/schedule/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[map[string]any](t, rr)
	if windows, ok := resp["windows"].([]any); !ok || len(windows) != 8 {
		t.Errorf("windows = %v", resp["windows"])
	}
}

func TestScheduleInstallAndResolve(t *testing.T) {
	f := newFixture(t)

	body := map[string]any{
		"name":          "hardware-profile",
		"cycle_time_ns": int64(200 * time.Millisecond),
		"base_time":     testBase.Format(time.RFC3339),
		"entries": []map[string]any{
			{"traffic_class": 0, "duration_ns": int64(50 * time.Millisecond)},
			{"traffic_class": 1, "duration_ns": int64(150 * time.Millisecond)},
		},
	}
	rr := f.request(t, http.MethodPost, "/api/v1/schedule/", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("install = %d body = %s", rr.Code, rr.Body.String())
	}

	// 60ms into the cycle now belongs to class 1.
	ts := testBase.Add(60 * time.Millisecond).Format(time.RFC3339Nano)
	rr = f.request(t, http.MethodGet, "/api/v1/schedule/resolve?t="+ts, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("resolve = %d", rr.Code)
	}
	resp := decodeBody[map[string]any](t, rr)
	if resp["active"] != true {
		t.Fatalf("resolve inactive: %v", resp)
	}
	window := resp["window"].(map[string]any)
	if window["traffic_class"].(float64) != 1 {
		t.Errorf("resolved class = %v", window["traffic_class"])
	}

	var count int64
	if err := f.db.Model(&models.Schedule{}).Where("installed = ?", true).Count(&count).Error; err != nil {
		t.Fatalf("count schedules: %v", err)
	}
	if count != 1 {
		t.Errorf("installed schedules = %d, want 1", count)
	}
}

func TestScheduleInstallRejectsOverflow(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"cycle_time_ns": int64(100 * time.Millisecond),
		"entries": []map[string]any{
			{"traffic_class": 0, "duration_ns": int64(80 * time.Millisecond)},
			{"traffic_class": 1, "duration_ns": int64(40 * time.Millisecond)},
		},
	}
	rr := f.request(t, http.MethodPost, "/api/v1/schedule/", body)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t)

	body := map[string]any{
		"traffic_class": 3,
		"timestamp":     testBase.Add(80 * time.Millisecond).Format(time.RFC3339Nano),
	}
	rr := f.request(t, http.MethodPost, "/api/v1/validate", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[map[string]any](t, rr)
	if resp["outcome"] != "valid" {
		t.Errorf("outcome = %v", resp["outcome"])
	}

	body["timestamp"] = testBase.Add(10 * time.Millisecond).Format(time.RFC3339Nano)
	rr = f.request(t, http.MethodPost, "/api/v1/validate", body)
	resp = decodeBody[map[string]any](t, rr)
	if resp["outcome"] != "out_of_window" {
		t.Errorf("outcome = %v", resp["outcome"])
	}
	// 65ms to the window start.
	if resp["magnitude"].(float64) != float64(65*time.Millisecond) {
		t.Errorf("magnitude = %v", resp["magnitude"])
	}
}

func TestViolationsListAndTallies(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		f.request(t, http.MethodPost, "/api/v1/validate", map[string]any{
			"traffic_class": 5,
			"timestamp":     testBase.Add(10 * time.Millisecond).Format(time.RFC3339Nano),
		})
	}

	rr := f.request(t, http.MethodGet, "/api/v1/violations/?class=5&limit=3", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decodeBody[map[string]any](t, rr)
	if resp["count"].(float64) != 3 {
		t.Errorf("count = %v", resp["count"])
	}

	rr = f.request(t, http.MethodGet, "/api/v1/violations/tallies", nil)
	tallies := decodeBody[[]map[string]any](t, rr)
	if len(tallies) != 1 || tallies[0]["events"].(float64) != 5 {
		t.Errorf("tallies = %v", tallies)
	}

	rr = f.request(t, http.MethodDelete, "/api/v1/violations/", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("reset = %d", rr.Code)
	}
}

func TestLatencyIngestAndSummary(t *testing.T) {
	f := newFixture(t)

	expected := testBase.Add(50 * time.Millisecond)
	for i, delta := range []time.Duration{200, -300, 450} {
		body := map[string]any{
			"traffic_class": 1,
			"expected":      expected.Add(time.Duration(i) * time.Millisecond).Format(time.RFC3339Nano),
			"observed":      expected.Add(time.Duration(i)*time.Millisecond + delta*time.Nanosecond).Format(time.RFC3339Nano),
		}
		rr := f.request(t, http.MethodPost, "/api/v1/latency/samples", body)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("ingest = %d body = %s", rr.Code, rr.Body.String())
		}
	}

	rr := f.request(t, http.MethodGet, "/api/v1/latency/summary?bound=1us", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("summary = %d", rr.Code)
	}
	resp := decodeBody[map[string]any](t, rr)
	if resp["meets_bound"] != true {
		t.Errorf("450ns max should meet 1µs bound: %v", resp)
	}
	summary := resp["summary"].(map[string]any)
	if summary["count"].(float64) != 3 {
		t.Errorf("count = %v", summary["count"])
	}

	// Absolute deltas sort to 200, 300, 450 ns; p100 is the max.
	rr = f.request(t, http.MethodGet, "/api/v1/latency/summary?p=100", nil)
	resp = decodeBody[map[string]any](t, rr)
	if resp["percentile_ns"].(float64) != 450 {
		t.Errorf("p100 = %v, want 450", resp["percentile_ns"])
	}

	rr = f.request(t, http.MethodGet, "/api/v1/latency/summary?p=200", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("out-of-range percentile = %d, want 400", rr.Code)
	}
}

func TestGuardBandAnalyzeEndpoint(t *testing.T) {
	f := newFixture(t)

	body := map[string]any{
		"guards_ns": []int64{0, int64(time.Millisecond)},
		"jitter_ns": []int64{
			int64(500 * time.Microsecond),
			int64(1500 * time.Microsecond),
			int64(-800 * time.Microsecond),
			int64(3 * time.Millisecond),
		},
	}
	rr := f.request(t, http.MethodPost, "/api/v1/guardband/analyze", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	analyses := decodeBody[[]map[string]any](t, rr)
	if len(analyses) != 2 {
		t.Fatalf("analyses = %d", len(analyses))
	}
	if analyses[1]["violation_rate"].(float64) != 0.5 {
		t.Errorf("rate = %v", analyses[1]["violation_rate"])
	}

	// A guard half the narrowest window is rejected.
	body["guards_ns"] = []int64{int64(13 * time.Millisecond)}
	rr = f.request(t, http.MethodPost, "/api/v1/guardband/analyze", body)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRunLifecycleThroughAPI(t *testing.T) {
	f := newFixture(t)

	rr := f.request(t, http.MethodPost, "/api/v1/runs/", map[string]any{
		"cycles": 3,
		"seed":   5,
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("start = %d body = %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[map[string]string](t, rr)
	runID := resp["run_id"]
	if runID == "" {
		t.Fatal("no run id")
	}
	f.runner.Wait()

	rr = f.request(t, http.MethodGet, "/api/v1/runs/"+runID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get = %d", rr.Code)
	}
	rec := decodeBody[map[string]any](t, rr)
	if rec["status"] != "complete" {
		t.Errorf("status = %v (error=%v)", rec["status"], rec["error"])
	}

	rr = f.request(t, http.MethodGet, "/api/v1/runs/"+runID+"/latency", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("latency = %d", rr.Code)
	}

	rr = f.request(t, http.MethodGet, fmt.Sprintf("/api/v1/runs/?status=%s", models.RunComplete), nil)
	runs := decodeBody[[]map[string]any](t, rr)
	if len(runs) != 1 {
		t.Errorf("runs = %d", len(runs))
	}
}

func TestRunGetUnknownIs404(t *testing.T) {
	f := newFixture(t)
	rr := f.request(t, http.MethodGet, "/api/v1/runs/does-not-exist", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	hash, err := auth.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := models.User{ID: "user-1", Email: "ops@example.com", Password: hash, Role: "operator"}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	rr := f.request(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "ops@example.com", "password": "hunter22",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login = %d (body=%s)", rr.Code, rr.Body.String())
	}
	resp := decodeBody[map[string]any](t, rr)
	tok, _ := resp["token"].(string)
	if tok == "" {
		t.Fatal("missing token")
	}

	claims, err := auth.Parse(testSecret, tok)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("uid = %q", claims.UserID)
	}

	rr = f.request(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "ops@example.com", "password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d", rr.Code)
	}

	rr = f.request(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "nobody@example.com", "password": "hunter22",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user = %d", rr.Code)
	}
}

// net/http cancels a request's context as soon as the handler returns,
// which must not take the accepted campaign down with it.
func TestRunSurvivesRequestCancellation(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]any{"cycles": 200, "seed": 11, "events_per_window": 2}); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/", &buf).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+f.token)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	cancel()

	if rr.Code != http.StatusAccepted {
		t.Fatalf("start = %d body = %s", rr.Code, rr.Body.String())
	}
	runID := decodeBody[map[string]string](t, rr)["run_id"]
	if runID == "" {
		t.Fatal("no run id")
	}

	f.runner.Wait()

	rr = f.request(t, http.MethodGet, "/api/v1/runs/"+runID, nil)
	rec := decodeBody[models.Run](t, rr)
	if rec.Status != models.RunComplete {
		t.Fatalf("status = %q, error = %q", rec.Status, rec.Error)
	}
}

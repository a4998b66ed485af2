/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_tsn/internal/audit"
	"github.com/friendsincode/heimdall_tsn/internal/auth"
	"github.com/friendsincode/heimdall_tsn/internal/cache"
	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/latency"
	"github.com/friendsincode/heimdall_tsn/internal/logbuffer"
	"github.com/friendsincode/heimdall_tsn/internal/run"
	"github.com/friendsincode/heimdall_tsn/internal/scheduler"
	"github.com/friendsincode/heimdall_tsn/internal/storage"
	"github.com/friendsincode/heimdall_tsn/internal/validator"
	"github.com/friendsincode/heimdall_tsn/internal/webhooks"
)

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	jwtSecret []byte
	sched     *scheduler.Scheduler
	validator *validator.Validator
	collector *latency.Collector
	runner    *run.Runner
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	cache     *cache.Cache
	audit     *audit.Service
	webhooks  *webhooks.Service
	store     storage.ObjectStore

	latencyBound time.Duration
	logger       zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, sched *scheduler.Scheduler, v *validator.Validator, collector *latency.Collector, runner *run.Runner, bus *events.Bus, logBuf *logbuffer.Buffer, latencyBound time.Duration, logger zerolog.Logger) *API {
	return &API{
		db:           db,
		jwtSecret:    jwtSecret,
		sched:        sched,
		validator:    v,
		collector:    collector,
		runner:       runner,
		bus:          bus,
		logBuffer:    logBuf,
		latencyBound: latencyBound,
		logger:       logger.With().Str("component", "api").Logger(),
	}
}

// SetCache wires a Redis cache into read paths. Optional; handlers fall back
// to the database when no cache is attached or the entry is missing.
func (a *API) SetCache(c *cache.Cache) {
	a.cache = c
}

// SetAudit wires the audit trail query endpoint.
func (a *API) SetAudit(svc *audit.Service) {
	a.audit = svc
}

// SetWebhooks wires the webhook test endpoint.
func (a *API) SetWebhooks(svc *webhooks.Service) {
	a.webhooks = svc
}

// SetStore wires the object store serving archived run reports.
func (a *API) SetStore(store storage.ObjectStore) {
	a.store = store
}

// Routes mounts all endpoints on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/schedule", func(r chi.Router) {
				r.Get("/", a.handleScheduleGet)
				r.Post("/", a.handleScheduleInstall)
				r.Get("/history", a.handleScheduleHistory)
				r.Get("/resolve", a.handleScheduleResolve)
			})

			pr.Post("/validate", a.handleValidate)
			pr.Route("/violations", func(r chi.Router) {
				r.Get("/", a.handleViolationsList)
				r.Get("/tallies", a.handleViolationTallies)
				r.Delete("/", a.handleViolationsReset)
			})

			pr.Route("/latency", func(r chi.Router) {
				r.Post("/samples", a.handleLatencyIngest)
				r.Get("/summary", a.handleLatencySummary)
			})

			pr.Post("/guardband/analyze", a.handleGuardBandAnalyze)

			pr.Route("/runs", func(r chi.Router) {
				r.Get("/", a.handleRunsList)
				r.Post("/", a.handleRunStart)
				r.Get("/{runID}", a.handleRunGet)
				r.Get("/{runID}/violations", a.handleRunViolations)
				r.Get("/{runID}/latency", a.handleRunLatency)
				r.Get("/{runID}/report", a.handleRunReport)
				r.Delete("/{runID}", a.handleRunStop)
			})

			pr.Route("/apikeys", func(r chi.Router) {
				r.Get("/", a.handleAPIKeyList)
				r.Post("/", a.handleAPIKeyCreate)
				r.Delete("/{keyID}", a.handleAPIKeyRevoke)
			})

			pr.Route("/webhooks", func(r chi.Router) {
				r.Get("/", a.handleWebhookList)
				r.Post("/", a.handleWebhookCreate)
				r.Delete("/{webhookID}", a.handleWebhookDelete)
				r.Post("/{webhookID}/test", a.handleWebhookTest)
				r.Get("/{webhookID}/logs", a.handleWebhookLogs)
			})

			pr.Get("/audit", a.handleAuditQuery)

			pr.Route("/logs", func(lr chi.Router) {
				lr.Get("/", a.handleLogs)
				lr.Get("/stats", a.handleLogStats)
			})

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

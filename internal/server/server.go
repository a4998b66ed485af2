/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_tsn/internal/api"
	"github.com/friendsincode/heimdall_tsn/internal/audit"
	"github.com/friendsincode/heimdall_tsn/internal/cache"
	"github.com/friendsincode/heimdall_tsn/internal/config"
	"github.com/friendsincode/heimdall_tsn/internal/db"
	"github.com/friendsincode/heimdall_tsn/internal/eventbus"
	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/gcl"
	"github.com/friendsincode/heimdall_tsn/internal/latency"
	"github.com/friendsincode/heimdall_tsn/internal/logbuffer"
	"github.com/friendsincode/heimdall_tsn/internal/run"
	"github.com/friendsincode/heimdall_tsn/internal/scheduler"
	"github.com/friendsincode/heimdall_tsn/internal/storage"
	"github.com/friendsincode/heimdall_tsn/internal/telemetry"
	"github.com/friendsincode/heimdall_tsn/internal/validator"
	"github.com/friendsincode/heimdall_tsn/internal/version"
	"github.com/friendsincode/heimdall_tsn/internal/webhooks"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db        *gorm.DB
	cache     *cache.Cache
	logBuffer *logbuffer.Buffer
	api       *api.API
	sched     *scheduler.Scheduler
	validator *validator.Validator
	collector *latency.Collector
	runner    *run.Runner
	store     storage.ObjectStore
	bus       *events.Bus
	natsBus   *eventbus.NATSBus
	redisBus  *eventbus.RedisBus
	auditSvc  *audit.Service
	webhooks  *webhooks.Service

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("heimdall-tsn-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket connections; the event stream stays open.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		// WriteTimeout set to 0 so the websocket event stream is not cut;
		// the middleware timeout (60s) covers non-streaming routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telemetry.Handler())
	srv.metricsServer = &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Redis cache for run/schedule read paths
	if s.cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	g, err := s.loadInitialSchedule()
	if err != nil {
		return err
	}
	s.sched = scheduler.New(g)

	s.validator = validator.New(s.sched, validator.Config{RecordValid: s.cfg.RecordValid}, s.bus, s.logger)
	s.collector = latency.NewCollector()

	store, err := s.buildObjectStore()
	if err != nil {
		return err
	}
	s.store = store

	s.runner = run.NewRunner(s.sched, s.db, s.store, s.bus, s.logger)

	s.auditSvc = audit.NewService(s.db, s.bus, s.logger)
	s.webhooks = webhooks.NewService(s.db, s.bus, s.logger)

	s.api = api.New(s.db, []byte(s.cfg.JWTSigningKey), s.sched, s.validator, s.collector, s.runner, s.bus, s.logBuffer, s.cfg.LatencyBound, s.logger)
	s.api.SetAudit(s.auditSvc)
	s.api.SetWebhooks(s.webhooks)
	s.api.SetStore(s.store)
	if s.cache != nil {
		s.api.SetCache(s.cache)
	}

	// NATS bridges the local bus to other nodes.
	if s.cfg.NATSURL != "" {
		ncfg := eventbus.DefaultNATSConfig()
		ncfg.URL = s.cfg.NATSURL
		ncfg.SubjectPrefix = s.cfg.NATSSubjectPrefix
		natsBus, err := eventbus.NewNATSBus(ncfg, s.bus, s.logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		s.natsBus = natsBus
		s.DeferClose(func() error { return s.natsBus.Close() })
	}

	// Redis pub/sub mirror for consumers that cannot speak NATS.
	if s.cfg.RedisAddr != "" && s.cfg.NATSURL == "" {
		rcfg := eventbus.DefaultRedisConfig()
		rcfg.Addr = s.cfg.RedisAddr
		rcfg.Password = s.cfg.RedisPassword
		rcfg.DB = s.cfg.RedisDB
		redisBus, err := eventbus.NewRedisBus(rcfg, s.nodeID(), s.bus, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("redis event bus unavailable")
		} else {
			s.redisBus = redisBus
			s.DeferClose(func() error { return s.redisBus.Close() })
		}
	}

	return nil
}

// loadInitialSchedule reads the configured gate control list, falling back to
// an eight-class equal split when no file is configured.
func (s *Server) loadInitialSchedule() (*gcl.GateControlList, error) {
	var opts []gcl.Option
	if s.cfg.StrictSchedules {
		opts = append(opts, gcl.Strict())
	}
	if s.cfg.RequireTiling {
		opts = append(opts, gcl.RequireTiling())
	}

	if s.cfg.ScheduleFile != "" {
		g, spec, err := config.LoadSchedule(s.cfg.ScheduleFile, opts...)
		if err != nil {
			return nil, fmt.Errorf("load schedule %s: %w", s.cfg.ScheduleFile, err)
		}
		s.logger.Info().
			Str("file", s.cfg.ScheduleFile).
			Int("windows", g.Len()).
			Dur("cycle_time", spec.CycleTime.Std()).
			Msg("gate control list loaded")
		return g, nil
	}

	entries := make([]gcl.Entry, 0, 8)
	for tc := 0; tc < 8; tc++ {
		entries = append(entries, gcl.Entry{TrafficClass: tc, Duration: 25 * time.Millisecond})
	}
	g, err := gcl.New(entries, 200*time.Millisecond, opts...)
	if err != nil {
		return nil, fmt.Errorf("build default schedule: %w", err)
	}
	s.logger.Warn().Msg("no schedule file configured, installed default eight-class split")
	return g, nil
}

func (s *Server) buildObjectStore() (storage.ObjectStore, error) {
	if s.cfg.ReportObjectStore && s.cfg.S3Bucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := storage.NewS3Store(ctx, s.cfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("init s3 store: %w", err)
		}
		return store, nil
	}
	store, err := storage.NewFilesystemStore(s.cfg.ReportDir)
	if err != nil {
		return nil, fmt.Errorf("init report directory %s: %w", s.cfg.ReportDir, err)
	}
	return store, nil
}

func (s *Server) nodeID() string {
	if s.cfg.InstanceID != "" {
		return s.cfg.InstanceID
	}
	host, err := os.Hostname()
	if err != nil {
		host = "heimdall"
	}
	return host + "-" + uuid.NewString()[:8]
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus listener.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Runner exposes the campaign runner for CLI-triggered runs.
func (s *Server) Runner() *run.Runner {
	return s.runner
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.runner.Stop()
	s.runner.Wait()
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	version.NewChecker(s.logger).Start(ctx)

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.auditSvc.Start(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.webhooks.Start(ctx)
	}()

	// Database connection pool metrics
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}

	// Mirror locally-originated events onto whichever wire bridge is
	// configured. Inbound remote events carry an origin marker, so the
	// mirror never echoes them back out.
	if s.natsBus != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			eventbus.RunMirror(ctx, s.bus, s.logger.With().Str("mirror", "nats").Logger(), s.natsBus.Publish)
		}()
	}
	if s.redisBus != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			eventbus.RunMirror(ctx, s.bus, s.logger.With().Str("mirror", "redis").Logger(), s.redisBus.Publish)
		}()
	}
}

// runCacheInvalidationListener drops cached records when the data behind them
// changes: schedule swaps replace the installed record, run completion writes
// new aggregates.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	scheduleSwapped := s.bus.Subscribe(events.EventScheduleSwap)
	runCompleted := s.bus.Subscribe(events.EventRunComplete)
	runFailed := s.bus.Subscribe(events.EventRunFailed)

	defer func() {
		s.bus.Unsubscribe(events.EventScheduleSwap, scheduleSwapped)
		s.bus.Unsubscribe(events.EventRunComplete, runCompleted)
		s.bus.Unsubscribe(events.EventRunFailed, runFailed)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case <-scheduleSwapped:
			s.logger.Debug().Msg("invalidating installed schedule cache (schedule swapped)")
			s.cache.InvalidateInstalledSchedule(ctx)

		case payload := <-runCompleted:
			if runID, ok := payload["run_id"].(string); ok {
				s.logger.Debug().Str("run_id", runID).Msg("invalidating run cache (run complete)")
				s.cache.InvalidateRun(ctx, runID)
			}

		case payload := <-runFailed:
			if runID, ok := payload["run_id"].(string); ok {
				s.logger.Debug().Str("run_id", runID).Msg("invalidating run cache (run failed)")
				s.cache.InvalidateRun(ctx, runID)
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`))
	})

	s.api.Routes(s.router)
}

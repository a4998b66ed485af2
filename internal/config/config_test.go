package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("HEIMDALL_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("HEIMDALL_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("HEIMDALL_ENV", "development")
	t.Setenv("HEIMDALL_LATENCY_BOUND", "2us")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.LatencyBound != 2*time.Microsecond {
		t.Fatalf("latency bound = %v", cfg.LatencyBound)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("default backend = %q", cfg.DBBackend)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("HEIMDALL_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("HEIMDALL_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadProductionRequiresBucketForObjectStore(t *testing.T) {
	t.Setenv("HEIMDALL_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("HEIMDALL_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("HEIMDALL_ENV", "production")
	t.Setenv("HEIMDALL_REPORT_OBJECT_STORE", "true")
	t.Setenv("HEIMDALL_S3_BUCKET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a bucket")
	}

	t.Setenv("HEIMDALL_S3_BUCKET", "tsn-reports")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config with bucket to succeed: %v", err)
	}
}

func TestLoadRejectsBadMisfireProbability(t *testing.T) {
	t.Setenv("HEIMDALL_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("HEIMDALL_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("HEIMDALL_RUN_MISFIRE_PROB", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("expected misfire probability above 1 to fail")
	}
}

func TestLoadScheduleFromYAML(t *testing.T) {
	doc := `cycle_time: 200ms
entries:
  - traffic_class: 0
    duration: 50ms
  - traffic_class: 1
    duration: 30ms
  - traffic_class: 2
    duration: 120ms
    gate_state: 6
shapers:
  - traffic_class: 2
    idle_slope_kbps: 10000
    send_slope_kbps: 90000
`
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write schedule: %v", err)
	}

	g, spec, err := LoadSchedule(path)
	if err != nil {
		t.Fatalf("load schedule: %v", err)
	}
	if g.CycleTime() != 200*time.Millisecond {
		t.Errorf("cycle time = %v", g.CycleTime())
	}
	if g.Len() != 3 {
		t.Errorf("window count = %d", g.Len())
	}
	if g.Window(1).StartOffset != 50*time.Millisecond {
		t.Errorf("window 1 start = %v", g.Window(1).StartOffset)
	}
	if len(spec.Shapers) != 1 || spec.Shapers[0].IdleSlopeKbps != 10000 {
		t.Errorf("shapers = %+v", spec.Shapers)
	}
}

func TestLoadScheduleRejectsOverflow(t *testing.T) {
	doc := `cycle_time: 100ms
entries:
  - traffic_class: 0
    duration: 80ms
  - traffic_class: 1
    duration: 40ms
`
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write schedule: %v", err)
	}
	if _, _, err := LoadSchedule(path); err == nil {
		t.Fatal("expected overflowing schedule to fail")
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	BaseURL       string // Public base URL (e.g., http://192.168.195.6:8080)
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string

	// Schedule file (YAML gate control list) loaded at startup.
	ScheduleFile string

	// Validation behavior
	RecordValid       bool // keep valid transmissions in the violation log
	StrictSchedules   bool // reject schedules that give a class more than one window
	RequireTiling     bool // reject schedules that leave gaps in the cycle
	LatencyBound      time.Duration
	DefaultGuardBand  time.Duration
	ReportDir         string
	ReportObjectStore bool // mirror reports to S3 alongside the filesystem

	// Workload defaults for API-triggered runs.
	RunCycles       int
	RunSeed         int64
	RunJitterStdDev time.Duration
	RunMisfireProb  float64
	ProbeSigma      time.Duration

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Event fan-out
	NATSURL           string
	NATSSubjectPrefix string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	InstanceID        string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"HEIMDALL_ENV", "TSN_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"HEIMDALL_HTTP_BIND", "TSN_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"HEIMDALL_HTTP_PORT", "TSN_HTTP_PORT"}, 8080),
		BaseURL:       getEnvAny([]string{"HEIMDALL_BASE_URL", "TSN_BASE_URL"}, ""),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"HEIMDALL_DB_BACKEND", "TSN_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"HEIMDALL_DB_DSN", "TSN_DB_DSN"}, ""),
		JWTSigningKey: getEnvAny([]string{"HEIMDALL_JWT_SIGNING_KEY", "TSN_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"HEIMDALL_METRICS_BIND", "TSN_METRICS_BIND"}, "127.0.0.1:9000"),

		ScheduleFile: getEnvAny([]string{"HEIMDALL_SCHEDULE_FILE", "TSN_SCHEDULE_FILE"}, ""),

		RecordValid:       getEnvBoolAny([]string{"HEIMDALL_RECORD_VALID", "TSN_RECORD_VALID"}, false),
		StrictSchedules:   getEnvBoolAny([]string{"HEIMDALL_STRICT_SCHEDULES", "TSN_STRICT_SCHEDULES"}, false),
		RequireTiling:     getEnvBoolAny([]string{"HEIMDALL_REQUIRE_TILING", "TSN_REQUIRE_TILING"}, false),
		LatencyBound:      getEnvDurationAny([]string{"HEIMDALL_LATENCY_BOUND", "TSN_LATENCY_BOUND"}, time.Microsecond),
		DefaultGuardBand:  getEnvDurationAny([]string{"HEIMDALL_GUARD_BAND", "TSN_GUARD_BAND"}, 500*time.Microsecond),
		ReportDir:         getEnvAny([]string{"HEIMDALL_REPORT_DIR", "TSN_REPORT_DIR"}, "./reports"),
		ReportObjectStore: getEnvBoolAny([]string{"HEIMDALL_REPORT_OBJECT_STORE", "TSN_REPORT_OBJECT_STORE"}, false),

		RunCycles:       getEnvIntAny([]string{"HEIMDALL_RUN_CYCLES", "TSN_RUN_CYCLES"}, 50),
		RunSeed:         int64(getEnvIntAny([]string{"HEIMDALL_RUN_SEED", "TSN_RUN_SEED"}, 0)),
		RunJitterStdDev: getEnvDurationAny([]string{"HEIMDALL_RUN_JITTER_STDDEV", "TSN_RUN_JITTER_STDDEV"}, 200*time.Microsecond),
		RunMisfireProb:  getEnvFloatAny([]string{"HEIMDALL_RUN_MISFIRE_PROB", "TSN_RUN_MISFIRE_PROB"}, 0.02),
		ProbeSigma:      getEnvDurationAny([]string{"HEIMDALL_PROBE_SIGMA", "TSN_PROBE_SIGMA"}, 100*time.Nanosecond),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"HEIMDALL_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"HEIMDALL_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"HEIMDALL_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"HEIMDALL_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"HEIMDALL_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"HEIMDALL_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"HEIMDALL_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"HEIMDALL_TRACING_ENABLED", "TSN_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"HEIMDALL_OTLP_ENDPOINT", "TSN_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"HEIMDALL_TRACING_SAMPLE_RATE", "TSN_TRACING_SAMPLE_RATE"}, 1.0),

		// Event fan-out
		NATSURL:           getEnvAny([]string{"HEIMDALL_NATS_URL", "TSN_NATS_URL"}, ""),
		NATSSubjectPrefix: getEnvAny([]string{"HEIMDALL_NATS_SUBJECT_PREFIX", "TSN_NATS_SUBJECT_PREFIX"}, "heimdall"),
		RedisAddr:         getEnvAny([]string{"HEIMDALL_REDIS_ADDR", "TSN_REDIS_ADDR"}, ""),
		RedisPassword:     getEnvAny([]string{"HEIMDALL_REDIS_PASSWORD", "TSN_REDIS_PASSWORD"}, ""),
		RedisDB:           getEnvIntAny([]string{"HEIMDALL_REDIS_DB", "TSN_REDIS_DB"}, 0),
		InstanceID:        getEnvAny([]string{"HEIMDALL_INSTANCE_ID", "TSN_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("HEIMDALL_DB_DSN or TSN_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("HEIMDALL_JWT_SIGNING_KEY or TSN_JWT_SIGNING_KEY must be provided")
	}

	if cfg.LatencyBound <= 0 {
		return nil, fmt.Errorf("latency bound must be positive, got %v", cfg.LatencyBound)
	}
	if cfg.RunMisfireProb < 0 || cfg.RunMisfireProb > 1 {
		return nil, fmt.Errorf("misfire probability %v outside [0,1]", cfg.RunMisfireProb)
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.ReportObjectStore && cfg.S3Bucket == "" {
			return nil, fmt.Errorf("HEIMDALL_S3_BUCKET must be set when report object storage is enabled in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use HEIMDALL_ENV (or TSN_ENV)",
		"JWT_SIGNING_KEY":     "use HEIMDALL_JWT_SIGNING_KEY (or TSN_JWT_SIGNING_KEY)",
		"TRACING_ENABLED":     "use HEIMDALL_TRACING_ENABLED (or TSN_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use HEIMDALL_OTLP_ENDPOINT (or TSN_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE": "use HEIMDALL_TRACING_SAMPLE_RATE (or TSN_TRACING_SAMPLE_RATE)",
		"SCHEDULE_FILE":       "use HEIMDALL_SCHEDULE_FILE (or TSN_SCHEDULE_FILE)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny returns the first parseable duration value from keys, or def.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

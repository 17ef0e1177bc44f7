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
	BaseURL       string // Public base URL (e.g., https://publish.example.com)
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string

	// Dispatch loop configuration
	DispatchTick      time.Duration
	DispatchBatchSize int
	PublishPolicyPath string // optional YAML policy file, see policy.go

	// Shopify Admin API configuration
	ShopifyAPIVersion string
	ShopifyTimeout    time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	// Redis-backed shop cache for the dispatch loop
	CacheEnabled bool

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"SKALD_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"SKALD_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"SKALD_HTTP_PORT"}, 8080),
		BaseURL:       getEnvAny([]string{"SKALD_BASE_URL"}, ""),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"SKALD_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:         getEnvAny([]string{"SKALD_DB_DSN"}, ""),
		JWTSigningKey: getEnvAny([]string{"SKALD_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"SKALD_METRICS_BIND"}, "127.0.0.1:9000"),

		// Dispatch loop configuration
		DispatchTick:      time.Duration(getEnvIntAny([]string{"SKALD_DISPATCH_TICK_SECONDS"}, 15)) * time.Second,
		DispatchBatchSize: getEnvIntAny([]string{"SKALD_DISPATCH_BATCH_SIZE"}, 50),
		PublishPolicyPath: getEnvAny([]string{"SKALD_PUBLISH_POLICY_PATH"}, ""),

		// Shopify Admin API configuration
		ShopifyAPIVersion: getEnvAny([]string{"SKALD_SHOPIFY_API_VERSION"}, "2025-07"),
		ShopifyTimeout:    time.Duration(getEnvIntAny([]string{"SKALD_SHOPIFY_TIMEOUT_SECONDS"}, 30)) * time.Second,

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"SKALD_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"SKALD_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"SKALD_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		LeaderElectionEnabled: getEnvBoolAny([]string{"SKALD_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"SKALD_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"SKALD_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"SKALD_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"SKALD_INSTANCE_ID"}, ""),

		CacheEnabled: getEnvBoolAny([]string{"SKALD_CACHE_ENABLED"}, false),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SKALD_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("SKALD_JWT_SIGNING_KEY must be provided")
	}

	if cfg.DispatchTick < time.Second {
		return nil, fmt.Errorf("SKALD_DISPATCH_TICK_SECONDS must be at least 1")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if len(cfg.JWTSigningKey) < 32 {
			return nil, fmt.Errorf("SKALD_JWT_SIGNING_KEY must be at least 32 bytes in production")
		}
		if cfg.LeaderElectionEnabled && cfg.RedisAddr == "" {
			return nil, fmt.Errorf("SKALD_REDIS_ADDR is required when leader election is enabled in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":             "use SKALD_ENV",
		"LEADER_ELECTION_ENABLED": "use SKALD_LEADER_ELECTION_ENABLED",
		"JWT_SIGNING_KEY":         "use SKALD_JWT_SIGNING_KEY",
		"TRACING_ENABLED":         "use SKALD_TRACING_ENABLED",
		"OTLP_ENDPOINT":           "use SKALD_OTLP_ENDPOINT",
		"TRACING_SAMPLE_RATE":     "use SKALD_TRACING_SAMPLE_RATE",
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

// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/nzbindexer/config.yaml",
	"/etc/nzbindexer/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		NNTP: NNTPConfig{
			Host:          "",
			Port:          119,
			TLS:           false,
			DialTimeout:   15 * time.Second,
			ReadTimeout:   60 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    2 * time.Second,
		},
		Scan: ScanConfig{
			Groups:              nil,
			BackfillDays:        0,
			Interval:            5 * time.Minute,
			Workers:             5,
			ChunkSize:           1000,
			BinaryIdleWindow:    30 * time.Minute,
			MaxBinariesPerGroup: 50000,
			BackfillMaxArticles: 10_000_000,
		},
		Resolver: ResolverConfig{
			Providers:     nil,
			LookupTimeout: 30 * time.Second,
			MaxBodyBytes:  10240,
		},
		Cache: CacheConfig{
			Path: "/data/namecache",
		},
		Database: DatabaseConfig{
			Path:                   "/data/nzbindexer.duckdb",
			MaxMemory:              "2GB",
			Threads:                0, // 0 = runtime.NumCPU()
			PreserveInsertionOrder: true,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            6789,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file
//  3. Environment variables: highest priority
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// NNTP_HOST -> nntp.host, SCAN_WORKERS -> scan.workers, etc.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed as comma-separated slices when set via env.
var sliceConfigPaths = []string{
	"scan.groups",
	"server.cors_origins",
}

// processSliceFields converts comma-separated env strings to slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		// Already a slice (from YAML), leave it alone.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped so random environment noise cannot leak
// into the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"nntp_host":           "nntp.host",
		"nntp_port":           "nntp.port",
		"nntp_tls":            "nntp.tls",
		"nntp_username":       "nntp.username",
		"nntp_password":       "nntp.password",
		"nntp_dial_timeout":   "nntp.dial_timeout",
		"nntp_read_timeout":   "nntp.read_timeout",
		"nntp_retry_attempts": "nntp.retry_attempts",
		"nntp_retry_delay":    "nntp.retry_delay",

		"scan_groups":               "scan.groups",
		"backfill_days":             "scan.backfill_days",
		"scan_interval":             "scan.interval",
		"scan_workers":              "scan.workers",
		"scan_chunk_size":           "scan.chunk_size",
		"binary_idle_window":        "scan.binary_idle_window",
		"max_binaries_per_group":    "scan.max_binaries_per_group",
		"backfill_max_articles":     "scan.backfill_max_articles",

		"resolver_lookup_timeout": "resolver.lookup_timeout",
		"resolver_max_body_bytes": "resolver.max_body_bytes",

		"namecache_path": "cache.path",

		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_timeout":        "server.timeout",
		"cors_origins":        "server.cors_origins",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

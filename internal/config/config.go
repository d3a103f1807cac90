// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

// Package config defines the service configuration and its layered loader.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the indexer.
type Config struct {
	NNTP      NNTPConfig      `koanf:"nntp"`
	Scan      ScanConfig      `koanf:"scan"`
	Resolver  ResolverConfig  `koanf:"resolver"`
	Cache     CacheConfig     `koanf:"cache"`
	Database  DatabaseConfig  `koanf:"database"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// NNTPConfig holds the news server connection parameters.
type NNTPConfig struct {
	Host     string        `koanf:"host" validate:"required"`
	Port     int           `koanf:"port" validate:"min=1,max=65535"`
	TLS      bool          `koanf:"tls"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `koanf:"dial_timeout"`
	// ReadTimeout bounds a single protocol exchange.
	ReadTimeout time.Duration `koanf:"read_timeout"`
	// RetryAttempts is the number of reconnect attempts on transient failure.
	RetryAttempts int `koanf:"retry_attempts" validate:"min=1,max=10"`
	// RetryDelay is the base delay for exponential reconnect backoff.
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// ScanConfig drives the periodic group scan and backfill loop.
type ScanConfig struct {
	// Groups lists newsgroups to seed as active on startup. Groups added
	// through the database directly are picked up as well.
	Groups []string `koanf:"groups"`
	// BackfillDays enables backfill for seeded groups when positive.
	BackfillDays int `koanf:"backfill_days" validate:"min=0"`
	// Interval between scheduler ticks.
	Interval time.Duration `koanf:"interval"`
	// Workers is the size of the group worker pool.
	Workers int `koanf:"workers" validate:"min=1,max=32"`
	// ChunkSize is the article window fetched per overview call.
	ChunkSize int `koanf:"chunk_size" validate:"min=50,max=10000"`
	// BinaryIdleWindow evicts a binary that received no new parts for this long.
	BinaryIdleWindow time.Duration `koanf:"binary_idle_window"`
	// MaxBinariesPerGroup bounds the in-memory working set per group.
	MaxBinariesPerGroup int `koanf:"max_binaries_per_group" validate:"min=100"`
	// BackfillMaxArticles clamps a computed backfill window.
	BackfillMaxArticles int64 `koanf:"backfill_max_articles"`
}

// ProviderConfig configures one external name-lookup provider.
type ProviderConfig struct {
	Name    string        `koanf:"name" validate:"required"`
	URL     string        `koanf:"url" validate:"required,url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
	// RatePerSecond caps outbound request rate to the provider.
	RatePerSecond float64 `koanf:"rate_per_second"`
	Enabled       bool    `koanf:"enabled"`
}

// ResolverConfig configures the deobfuscation strategy chain.
type ResolverConfig struct {
	Providers []ProviderConfig `koanf:"providers"`
	// LookupTimeout bounds the whole external-lookup step across providers.
	LookupTimeout time.Duration `koanf:"lookup_timeout"`
	// MaxBodyBytes bounds how much decoded payload the sniffer inspects.
	MaxBodyBytes int `koanf:"max_body_bytes" validate:"min=1024"`
}

// CacheConfig configures the persistent name-resolution cache.
type CacheConfig struct {
	// Path is the badger directory; empty means in-memory (tests).
	Path string `koanf:"path"`
}

// DatabaseConfig holds DuckDB connection settings.
type DatabaseConfig struct {
	Path                   string `koanf:"path" validate:"required"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"`
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// ServerConfig holds the admin HTTP API settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout     time.Duration `koanf:"timeout"`
	CORSOrigins []string      `koanf:"cors_origins"`
	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for consistency beyond struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Scan.Interval < time.Second {
		return fmt.Errorf("scan.interval must be at least 1s, got %s", c.Scan.Interval)
	}
	if c.NNTP.RetryDelay <= 0 {
		return fmt.Errorf("nntp.retry_delay must be positive, got %s", c.NNTP.RetryDelay)
	}
	for i, p := range c.Resolver.Providers {
		if p.Enabled && p.Timeout <= 0 {
			return fmt.Errorf("resolver.providers[%d] (%s): timeout must be positive", i, p.Name)
		}
	}
	return nil
}

// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

// Package config loads service configuration with layered sources
// (highest priority wins): environment variables, an optional YAML
// config file, built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the service.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
	Store   StoreConfig   `koanf:"store"`
	Blob    BlobConfig    `koanf:"blob"`
	Archive ArchiveConfig `koanf:"archive"`
	Cache   CacheConfig   `koanf:"cache"`
	API     APIConfig     `koanf:"api"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures the zerolog facade.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig configures the live keyed store.
type StoreConfig struct {
	// Path is the BadgerDB directory. Empty selects an in-memory
	// store, for development only.
	Path string `koanf:"path"`
}

// BlobConfig configures the cold-storage backend.
type BlobConfig struct {
	// Backend selects the blob implementation: "s3" or "fs".
	Backend string `koanf:"backend" validate:"oneof=s3 fs"`

	// Root is the filesystem root for the fs backend.
	Root string `koanf:"root"`

	// S3 settings, used only by the s3 backend.
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl"`
	Region    string `koanf:"region"`
}

// ArchiveConfig configures the history archiver.
type ArchiveConfig struct {
	Bucket            string        `koanf:"bucket" validate:"required"`
	RetentionYears    int           `koanf:"retention_years" validate:"min=1"`
	MaxUploadBytes    int64         `koanf:"max_upload_bytes" validate:"min=1"`
	TenantConcurrency int           `koanf:"tenant_concurrency" validate:"min=1,max=64"`
	Interval          time.Duration `koanf:"interval"`
}

// CacheConfig configures the in-process response cache.
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// APIConfig configures API middleware.
type APIConfig struct {
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8470,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Store: StoreConfig{
			Path: "/data/dpordesk/store",
		},
		Blob: BlobConfig{
			Backend: "fs",
			Root:    "/data/dpordesk/blobs",
			UseSSL:  true,
		},
		Archive: ArchiveConfig{
			Bucket:            "dpordesk-archives",
			RetentionYears:    2,
			MaxUploadBytes:    50 << 20,
			TenantConcurrency: 4,
			Interval:          0, // external trigger only by default
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		API: APIConfig{
			RateLimitReqs:   100,
			RateLimitWindow: 1 * time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Blob.Backend == "s3" {
		if c.Blob.Endpoint == "" {
			return fmt.Errorf("blob.endpoint is required for the s3 backend")
		}
		if c.Blob.AccessKey == "" || c.Blob.SecretKey == "" {
			return fmt.Errorf("blob.access_key and blob.secret_key are required for the s3 backend")
		}
	}
	if c.Blob.Backend == "fs" && c.Blob.Root == "" {
		return fmt.Errorf("blob.root is required for the fs backend")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	return nil
}

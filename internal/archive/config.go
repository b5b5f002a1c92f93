// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

// Package archive moves audit-log entries past the retention threshold
// out of the live keyed store and into year-partitioned blob storage.
//
// The archiver never deletes an entry that has not been durably
// written: each year partition is uploaded first and its live keys
// removed only after the upload succeeds. A failed partition leaves its
// entries live and eligible for the next run, so every operation is
// safe to re-run.
package archive

import "time"

// Default configuration. Values match the portal's historical behavior;
// tests override RetentionYears rather than waiting for fixtures to age.
const (
	DefaultBucket            = "dpordesk-archives"
	DefaultRetentionYears    = 2
	DefaultMaxUploadBytes    = 50 << 20 // 50 MiB, the bucket's per-object cap
	DefaultTenantConcurrency = 4
)

// Config holds archiver settings.
type Config struct {
	// Bucket is the blob store bucket holding all archive partitions.
	Bucket string

	// RetentionYears is the age beyond which entries are archived.
	RetentionYears int

	// MaxUploadBytes caps a single partition upload. Oversized
	// partitions fail with an error; their entries stay live.
	MaxUploadBytes int64

	// TenantConcurrency bounds parallel tenants in the fleet sweep.
	TenantConcurrency int

	// Interval enables the background sweep scheduler when non-zero.
	// Zero means archival runs only on external trigger.
	Interval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Bucket:            DefaultBucket,
		RetentionYears:    DefaultRetentionYears,
		MaxUploadBytes:    DefaultMaxUploadBytes,
		TenantConcurrency: DefaultTenantConcurrency,
	}
}

// withDefaults fills zero values so a partially populated config
// behaves like DefaultConfig for the missing fields.
func (c Config) withDefaults() Config {
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if c.RetentionYears <= 0 {
		c.RetentionYears = DefaultRetentionYears
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.TenantConcurrency <= 0 {
		c.TenantConcurrency = DefaultTenantConcurrency
	}
	return c
}

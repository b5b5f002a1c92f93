// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package archive

import (
	"context"
	"time"

	"github.com/dpordesk/dpordesk/internal/logging"
)

// Scheduler runs the fleet-wide sweep on a fixed interval. Overlap with
// a concurrently triggered manual sweep is harmless: the per-pair lock
// makes the second run for any pair fail fast and be counted.
type Scheduler struct {
	archiver *Archiver
	interval time.Duration
}

// NewScheduler creates a sweep scheduler. A non-positive interval
// disables it (Run returns immediately).
func NewScheduler(archiver *Archiver, interval time.Duration) *Scheduler {
	return &Scheduler{archiver: archiver, interval: interval}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	logging.Info().Dur("interval", s.interval).Msg("Archive scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Archive scheduler stopped")
			return
		case <-ticker.C:
			report := s.archiver.ArchiveAllTenants(ctx)
			if report.Error != "" || report.TotalErrors > 0 {
				logging.Warn().
					Int("errors", report.TotalErrors).
					Str("enumeration_error", report.Error).
					Msg("Scheduled archive sweep finished with errors")
			}
		}
	}
}

// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package archive

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dpordesk/dpordesk/internal/history"
	"github.com/dpordesk/dpordesk/internal/logging"
	"github.com/dpordesk/dpordesk/internal/metrics"
)

// Report is the outcome of a fleet-wide sweep, consumed by the admin
// UI. Failures inside the sweep are surfaced only through the error
// counters; the Error field is set only when tenant enumeration itself
// failed and nothing could run.
type Report struct {
	Timestamp     time.Time                       `json:"timestamp"`
	Modules       map[history.Module]ModuleResult `json:"modules"`
	TotalArchived int                             `json:"totalArchived"`
	TotalErrors   int                             `json:"totalErrors"`
	Error         string                          `json:"error,omitempty"`
}

func emptyReport(now time.Time) Report {
	modules := make(map[history.Module]ModuleResult, len(history.Modules()))
	for _, m := range history.Modules() {
		modules[m] = ModuleResult{}
	}
	return Report{Timestamp: now, Modules: modules}
}

// ArchiveAllTenants sweeps every tenant and every audit-logged module.
// Tenants run in parallel bounded by the configured concurrency; a
// failure in one tenant or module is counted and never stops the rest.
// The method does not return an error: callers must inspect the
// report's counters.
func (a *Archiver) ArchiveAllTenants(ctx context.Context) Report {
	start := a.now()
	report := emptyReport(start.UTC())
	metrics.ArchiveRunsTotal.Inc()
	defer func() {
		metrics.ArchiveSweepDuration.Observe(time.Since(start).Seconds())
	}()

	tenantIDs, err := a.dir.ListAll(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Tenant enumeration failed; archive sweep aborted")
		report.Error = err.Error()
		return report
	}

	logging.Info().Int("tenants", len(tenantIDs)).Msg("Archive sweep started")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.TenantConcurrency)

	for _, tenantID := range tenantIDs {
		g.Go(func() error {
			for _, module := range history.Modules() {
				if gctx.Err() != nil {
					return nil
				}
				result, err := a.ArchiveModuleForTenant(gctx, module, tenantID)
				if err != nil {
					logging.Error().Err(err).
						Str("module", string(module)).
						Str("tenant", tenantID).
						Msg("Module archival failed")
					result.Errors++
				}
				mu.Lock()
				moduleTotal := report.Modules[module]
				moduleTotal.add(result)
				report.Modules[module] = moduleTotal
				report.TotalArchived += result.Archived
				report.TotalErrors += result.Errors
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors; failures are counted

	logging.Info().
		Int("archived", report.TotalArchived).
		Int("errors", report.TotalErrors).
		Dur("duration", time.Since(start)).
		Msg("Archive sweep completed")
	return report
}

// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/dpordesk/dpordesk/internal/blob"
	"github.com/dpordesk/dpordesk/internal/history"
	"github.com/dpordesk/dpordesk/internal/kvstore"
	"github.com/dpordesk/dpordesk/internal/logging"
	"github.com/dpordesk/dpordesk/internal/metrics"
	"github.com/dpordesk/dpordesk/internal/tenants"
)

// Archiver migrates audit-log entries past the retention threshold from
// the live keyed store into year-partitioned blob storage.
type Archiver struct {
	store kvstore.Store
	blobs blob.Store
	dir   tenants.Directory
	cfg   Config
	locks *pairLocks

	// now is the clock; tests override it to control the cutoff.
	now func() time.Time

	// onArchive, when set, runs after a run that touched any partition.
	// Wired to response-cache invalidation: archival deletes live
	// entries and rewrites partitions, so cached history views for the
	// tenant are stale afterwards.
	onArchive func(module history.Module, tenantID string)
}

// ModuleResult is the outcome of archiving one (module, tenant) pair.
type ModuleResult struct {
	Archived int `json:"archived"`
	Errors   int `json:"errors"`
}

func (r *ModuleResult) add(other ModuleResult) {
	r.Archived += other.Archived
	r.Errors += other.Errors
}

// New creates an Archiver. Zero config fields fall back to defaults.
func New(store kvstore.Store, blobs blob.Store, dir tenants.Directory, cfg Config) *Archiver {
	return &Archiver{
		store: store,
		blobs: blobs,
		dir:   dir,
		cfg:   cfg.withDefaults(),
		locks: newPairLocks(),
		now:   time.Now,
	}
}

// SetClock overrides the archiver's clock. Test hook.
func (a *Archiver) SetClock(now func() time.Time) {
	a.now = now
}

// OnArchive registers a callback invoked after each run that selected
// at least one partition for the pair.
func (a *Archiver) OnArchive(fn func(module history.Module, tenantID string)) {
	a.onArchive = fn
}

// PartitionPath returns the blob path of one year partition:
// {module}/{tenantID}/{year}/history.json.
func PartitionPath(module history.Module, tenantID string, year int) string {
	return fmt.Sprintf("%s/%s/%d/history.json", module, tenantID, year)
}

// EnsureStorageReady checks that the archive bucket exists and creates
// it if not. Safe to call on every startup; a failure here is non-fatal
// because uploads re-surface the condition and archival self-corrects
// once it is fixed.
func (a *Archiver) EnsureStorageReady(ctx context.Context) error {
	if err := a.blobs.EnsureBucket(ctx, a.cfg.Bucket); err != nil {
		logging.Error().Err(err).Str("bucket", a.cfg.Bucket).Msg("Archive bucket setup failed")
		return err
	}
	return nil
}

// candidate is one live entry selected for archival.
type candidate struct {
	key  string
	ts   time.Time
	raw  json.RawMessage
	year int
}

// ArchiveModuleForTenant scans the live entries of one (module, tenant)
// pair, partitions those older than the retention threshold by calendar
// year, uploads each partition, and deletes the migrated keys only
// after its upload succeeds.
//
// Partition failures are counted in the result, never returned: one
// year failing must not block the others. The returned error is
// reserved for run-level failures (the scan, or an overlapping run for
// the same pair).
func (a *Archiver) ArchiveModuleForTenant(ctx context.Context, module history.Module, tenantID string) (ModuleResult, error) {
	lockKey := string(module) + ":" + tenantID
	if !a.locks.tryAcquire(lockKey) {
		return ModuleResult{}, ErrArchiveInProgress
	}
	defer a.locks.release(lockKey)

	cutoff := a.now().AddDate(-a.cfg.RetentionYears, 0, 0)

	pairs, err := a.store.ScanPrefix(ctx, history.KeyPrefix(module, tenantID))
	if err != nil {
		return ModuleResult{}, fmt.Errorf("scan %s history for tenant %s: %w", module, tenantID, err)
	}

	byYear := a.selectCandidates(pairs, cutoff, module, tenantID)
	if len(byYear) == 0 {
		return ModuleResult{}, nil
	}

	// Years ascending so re-runs after a partial failure replay in a
	// stable order.
	years := make([]int, 0, len(byYear))
	for year := range byYear {
		years = append(years, year)
	}
	sort.Ints(years)

	var result ModuleResult
	for _, year := range years {
		archived, err := a.archivePartition(ctx, module, tenantID, year, byYear[year])
		if err != nil {
			result.Errors++
			metrics.ArchivePartitionErrors.WithLabelValues(string(module)).Inc()
			logging.Error().Err(err).
				Str("module", string(module)).
				Str("tenant", tenantID).
				Int("year", year).
				Msg("Year partition archival failed; entries remain live")
			continue
		}
		result.Archived += archived
		metrics.ArchiveEntriesTotal.WithLabelValues(string(module)).Add(float64(archived))
	}

	if a.onArchive != nil {
		// Fired even when every partition failed: an upload may have
		// rewritten a partition before its key deletion failed, so
		// cached views can be stale either way.
		a.onArchive(module, tenantID)
	}

	logging.Info().
		Str("module", string(module)).
		Str("tenant", tenantID).
		Int("archived", result.Archived).
		Int("errors", result.Errors).
		Msg("Module archival completed")
	return result, nil
}

// selectCandidates filters the scanned entries down to those strictly
// older than the cutoff and groups them by calendar year. Entries whose
// time cannot be established (no timestamp field, no parseable
// key-embedded time) are excluded: a wrong year partition is worse than
// a deferred archival.
func (a *Archiver) selectCandidates(pairs []kvstore.KV, cutoff time.Time, module history.Module, tenantID string) map[int][]candidate {
	byYear := make(map[int][]candidate)
	skipped := 0

	for _, kv := range pairs {
		var entry history.Entry
		if err := json.Unmarshal(kv.Value, &entry); err != nil {
			skipped++
			continue
		}
		// The stored key field may predate the key format; the store
		// key is authoritative for time derivation.
		entry.Key = kv.Key

		ts, ok := history.EffectiveTimestamp(&entry)
		if !ok {
			skipped++
			continue
		}
		if !ts.Before(cutoff) {
			continue
		}
		year := ts.UTC().Year()
		byYear[year] = append(byYear[year], candidate{
			key:  kv.Key,
			ts:   ts,
			raw:  json.RawMessage(kv.Value),
			year: year,
		})
	}

	if skipped > 0 {
		logging.Warn().
			Str("module", string(module)).
			Str("tenant", tenantID).
			Int("skipped", skipped).
			Msg("Entries without a derivable timestamp excluded from archival")
	}
	return byYear
}

// archivePartition uploads one year partition and, only after the
// upload succeeds, deletes the migrated keys from the live store.
// Returns the number of entries migrated.
func (a *Archiver) archivePartition(ctx context.Context, module history.Module, tenantID string, year int, entries []candidate) (int, error) {
	path := PartitionPath(module, tenantID, year)

	merged, err := a.mergeExisting(ctx, path, entries)
	if err != nil {
		return 0, err
	}

	data, err := json.MarshalIndent(rawSlice(merged), "", "  ")
	if err != nil {
		return 0, fmt.Errorf("serialize partition %s: %w", path, err)
	}
	if int64(len(data)) > a.cfg.MaxUploadBytes {
		return 0, fmt.Errorf("partition %s is %d bytes, exceeds %d byte upload cap", path, len(data), a.cfg.MaxUploadBytes)
	}

	if err := a.blobs.Upload(ctx, a.cfg.Bucket, path, data, "application/json"); err != nil {
		return 0, fmt.Errorf("upload partition %s: %w", path, err)
	}

	// Delete-after-durable-write: the keys go only now that the
	// partition is confirmed written. A delete failure leaves the
	// entries both live and archived, which the next run's merge
	// resolves.
	keys := make([]string, len(entries))
	for i, c := range entries {
		keys[i] = c.key
	}
	if err := a.store.DeleteKeys(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete %d migrated keys for %s: %w", len(keys), path, err)
	}

	return len(entries), nil
}

// mergeExisting unions the new candidates with any previously written
// partition at path, the live copy winning on key collision. Re-running
// archival for a year therefore never drops entries archived earlier,
// even when the live set is no longer a superset of them.
func (a *Archiver) mergeExisting(ctx context.Context, path string, entries []candidate) ([]candidate, error) {
	existing, err := a.blobs.Download(ctx, a.cfg.Bucket, path)
	if errors.Is(err, blob.ErrObjectNotFound) {
		return sortedByTime(entries), nil
	}
	if err != nil {
		// Without the existing partition the upload would overwrite
		// entries already archived; fail the partition instead.
		return nil, fmt.Errorf("read existing partition %s: %w", path, err)
	}

	var prior []json.RawMessage
	if err := json.Unmarshal(existing, &prior); err != nil {
		return nil, fmt.Errorf("parse existing partition %s: %w", path, err)
	}

	liveKeys := make(map[string]struct{}, len(entries))
	for _, c := range entries {
		liveKeys[c.key] = struct{}{}
	}

	merged := make([]candidate, 0, len(prior)+len(entries))
	for _, raw := range prior {
		var entry history.Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			// Keep unparseable prior entries rather than lose them.
			merged = append(merged, candidate{raw: raw})
			continue
		}
		if _, replaced := liveKeys[entry.Key]; replaced {
			continue
		}
		ts, _ := history.EffectiveTimestamp(&entry)
		merged = append(merged, candidate{key: entry.Key, ts: ts, raw: raw})
	}
	merged = append(merged, entries...)
	return sortedByTime(merged), nil
}

// sortedByTime orders a partition's entries by effective timestamp,
// then key, so partition contents are deterministic across runs.
func sortedByTime(entries []candidate) []candidate {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ts.Equal(entries[j].ts) {
			return entries[i].ts.Before(entries[j].ts)
		}
		return entries[i].key < entries[j].key
	})
	return entries
}

func rawSlice(entries []candidate) []json.RawMessage {
	raws := make([]json.RawMessage, len(entries))
	for i, c := range entries {
		raws[i] = c.raw
	}
	return raws
}

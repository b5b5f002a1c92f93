// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/dpordesk/dpordesk/internal/blob"
	"github.com/dpordesk/dpordesk/internal/history"
	"github.com/dpordesk/dpordesk/internal/kvstore"
	"github.com/dpordesk/dpordesk/internal/tenants"
)

// fakeBlob is an in-memory blob.Store with injectable upload failures.
type fakeBlob struct {
	mu          sync.Mutex
	objects     map[string][]byte // "bucket/path" -> data
	failUploads map[string]bool   // paths whose uploads fail
	failList    bool
	uploads     int
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{
		objects:     make(map[string][]byte),
		failUploads: make(map[string]bool),
	}
}

func (f *fakeBlob) EnsureBucket(_ context.Context, _ string) error { return nil }

func (f *fakeBlob) Upload(_ context.Context, bucket, path string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.failUploads[path] {
		return errors.New("injected upload failure")
	}
	f.objects[bucket+"/"+path] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlob) Download(_ context.Context, bucket, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+path]
	if !ok {
		return nil, blob.ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeBlob) List(_ context.Context, bucket, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, errors.New("injected list failure")
	}
	seen := make(map[string]bool)
	var names []string
	for key := range f.objects {
		rest, ok := strings.CutPrefix(key, bucket+"/"+prefix)
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

func newTestKV(t *testing.T) kvstore.Store {
	t.Helper()
	store, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// testNow is the fixed clock for archiver tests. With the default
// two-year retention the cutoff lands at 2022-06-15.
var testNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func newTestArchiver(t *testing.T, store kvstore.Store, blobs blob.Store) *Archiver {
	t.Helper()
	dir := tenants.NewStoreDirectory(store)
	a := New(store, blobs, dir, Config{})
	a.SetClock(func() time.Time { return testNow })
	return a
}

// putEntry stores a live history entry whose timestamp field is set.
func putEntry(t *testing.T, store kvstore.Store, module history.Module, tenantID, entryID string, ts time.Time) string {
	t.Helper()
	key := history.EntryKey(module, tenantID, entryID)
	entry := map[string]any{
		"key":       key,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
		"action":    "updated",
		"changes": map[string]any{
			"finalite": map[string]any{"from": "ancienne", "to": "nouvelle"},
		},
	}
	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	if err := store.Set(context.Background(), key, data); err != nil {
		t.Fatalf("store entry: %v", err)
	}
	return key
}

func liveKeys(t *testing.T, store kvstore.Store, module history.Module, tenantID string) []string {
	t.Helper()
	pairs, err := store.ScanPrefix(context.Background(), history.KeyPrefix(module, tenantID))
	if err != nil {
		t.Fatalf("scan live entries: %v", err)
	}
	keys := make([]string, len(pairs))
	for i, kv := range pairs {
		keys[i] = kv.Key
	}
	return keys
}

func partitionEntries(t *testing.T, blobs *fakeBlob, module history.Module, tenantID string, year int) []history.Entry {
	t.Helper()
	data, err := blobs.Download(context.Background(), DefaultBucket, PartitionPath(module, tenantID, year))
	if err != nil {
		t.Fatalf("download partition: %v", err)
	}
	var entries []history.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("parse partition: %v", err)
	}
	return entries
}

func TestArchiveModuleForTenantYearPartitioning(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)
	ctx := context.Background()

	old2021a := putEntry(t, store, history.ModuleTraitement, "tenant1", "e1", time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC))
	old2021b := putEntry(t, store, history.ModuleTraitement, "tenant1", "e2", time.Date(2021, time.November, 30, 0, 0, 0, 0, time.UTC))
	recent := putEntry(t, store, history.ModuleTraitement, "tenant1", "e3", time.Date(2023, time.May, 1, 0, 0, 0, 0, time.UTC))

	result, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1")
	if err != nil {
		t.Fatalf("ArchiveModuleForTenant failed: %v", err)
	}
	if result.Archived != 2 || result.Errors != 0 {
		t.Errorf("Expected {archived:2 errors:0}, got %+v", result)
	}

	keys := liveKeys(t, store, history.ModuleTraitement, "tenant1")
	if len(keys) != 1 || keys[0] != recent {
		t.Errorf("Expected only the recent entry to stay live, got %v", keys)
	}

	entries := partitionEntries(t, blobs, history.ModuleTraitement, "tenant1", 2021)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 archived entries, got %d", len(entries))
	}
	// Sorted by timestamp.
	if entries[0].Key != old2021a || entries[1].Key != old2021b {
		t.Errorf("Expected time-ordered partition [%s %s], got [%s %s]",
			old2021a, old2021b, entries[0].Key, entries[1].Key)
	}
}

func TestArchiveModuleForTenantMultipleYears(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)
	ctx := context.Background()

	putEntry(t, store, history.ModuleDemande, "tenant1", "e1", time.Date(2020, time.July, 4, 0, 0, 0, 0, time.UTC))
	putEntry(t, store, history.ModuleDemande, "tenant1", "e2", time.Date(2021, time.January, 2, 0, 0, 0, 0, time.UTC))
	// Older than the cutoff but in the cutoff's own calendar year.
	putEntry(t, store, history.ModuleDemande, "tenant1", "e3", time.Date(2022, time.February, 1, 0, 0, 0, 0, time.UTC))

	result, err := a.ArchiveModuleForTenant(ctx, history.ModuleDemande, "tenant1")
	if err != nil {
		t.Fatalf("ArchiveModuleForTenant failed: %v", err)
	}
	if result.Archived != 3 || result.Errors != 0 {
		t.Errorf("Expected {archived:3 errors:0}, got %+v", result)
	}

	for _, year := range []int{2020, 2021, 2022} {
		entries := partitionEntries(t, blobs, history.ModuleDemande, "tenant1", year)
		if len(entries) != 1 {
			t.Errorf("Expected 1 entry in %d partition, got %d", year, len(entries))
		}
	}
}

func TestArchiveModuleForTenantUploadFailureKeepsEntriesLive(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)
	ctx := context.Background()

	putEntry(t, store, history.ModuleViolation, "tenant1", "e1", time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC))
	blobs.failUploads[PartitionPath(history.ModuleViolation, "tenant1", 2021)] = true

	result, err := a.ArchiveModuleForTenant(ctx, history.ModuleViolation, "tenant1")
	if err != nil {
		t.Fatalf("Expected partition failure to be counted, not returned, got %v", err)
	}
	if result.Archived != 0 || result.Errors != 1 {
		t.Errorf("Expected {archived:0 errors:1}, got %+v", result)
	}

	keys := liveKeys(t, store, history.ModuleViolation, "tenant1")
	if len(keys) != 1 {
		t.Errorf("Expected failed entry to stay live, got %v", keys)
	}
	if _, err := blobs.Download(ctx, DefaultBucket, PartitionPath(history.ModuleViolation, "tenant1", 2021)); !errors.Is(err, blob.ErrObjectNotFound) {
		t.Errorf("Expected no partition after failed upload, got %v", err)
	}

	// The next run succeeds once the fault clears.
	delete(blobs.failUploads, PartitionPath(history.ModuleViolation, "tenant1", 2021))
	result, err = a.ArchiveModuleForTenant(ctx, history.ModuleViolation, "tenant1")
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if result.Archived != 1 || result.Errors != 0 {
		t.Errorf("Expected retry to archive 1 entry, got %+v", result)
	}
}

func TestArchiveModuleForTenantPartitionFailureIsolated(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)
	ctx := context.Background()

	putEntry(t, store, history.ModuleTraitement, "tenant1", "e1", time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC))
	survivor := putEntry(t, store, history.ModuleTraitement, "tenant1", "e2", time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC))
	blobs.failUploads[PartitionPath(history.ModuleTraitement, "tenant1", 2021)] = true

	result, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1")
	if err != nil {
		t.Fatalf("ArchiveModuleForTenant failed: %v", err)
	}
	if result.Archived != 1 || result.Errors != 1 {
		t.Errorf("Expected {archived:1 errors:1}, got %+v", result)
	}

	keys := liveKeys(t, store, history.ModuleTraitement, "tenant1")
	if len(keys) != 1 || keys[0] != survivor {
		t.Errorf("Expected only the failed year's entry to stay live, got %v", keys)
	}
}

func TestArchiveModuleForTenantIdempotent(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)
	ctx := context.Background()

	putEntry(t, store, history.ModuleTraitement, "tenant1", "e1", time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC))

	first, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1")
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if first.Archived != 1 {
		t.Fatalf("Expected first run to archive 1 entry, got %+v", first)
	}

	second, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1")
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if second.Archived != 0 || second.Errors != 0 {
		t.Errorf("Expected second run to be a no-op, got %+v", second)
	}
	if entries := partitionEntries(t, blobs, history.ModuleTraitement, "tenant1", 2021); len(entries) != 1 {
		t.Errorf("Expected partition unchanged after no-op run, got %d entries", len(entries))
	}
}

func TestArchiveModuleForTenantMergesExistingPartition(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)
	ctx := context.Background()

	putEntry(t, store, history.ModuleTraitement, "tenant1", "e1", time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC))
	if _, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1"); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	// A later entry for the same archived year appears (backfill).
	putEntry(t, store, history.ModuleTraitement, "tenant1", "e2", time.Date(2021, time.September, 1, 0, 0, 0, 0, time.UTC))
	result, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1")
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if result.Archived != 1 {
		t.Fatalf("Expected second run to archive 1 entry, got %+v", result)
	}

	entries := partitionEntries(t, blobs, history.ModuleTraitement, "tenant1", 2021)
	if len(entries) != 2 {
		t.Fatalf("Expected merged partition with 2 entries, got %d", len(entries))
	}
	if entries[0].Key != history.EntryKey(history.ModuleTraitement, "tenant1", "e1") {
		t.Errorf("Expected earlier entry first after merge, got %s", entries[0].Key)
	}
}

func TestArchiveModuleForTenantLiveCopyWinsOnRearchive(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)
	ctx := context.Background()

	ts := time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC)
	key := putEntry(t, store, history.ModuleTraitement, "tenant1", "e1", ts)
	if _, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1"); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	// The same key reappears live with different content, as after a
	// partial delete failure in an earlier run.
	entry := map[string]any{
		"key":        key,
		"timestamp":  ts.Format(time.RFC3339Nano),
		"action":     "updated",
		"user_email": "dpo@example.org",
	}
	data, _ := json.Marshal(entry)
	if err := store.Set(ctx, key, data); err != nil {
		t.Fatalf("reinsert entry: %v", err)
	}

	if _, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1"); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	entries := partitionEntries(t, blobs, history.ModuleTraitement, "tenant1", 2021)
	if len(entries) != 1 {
		t.Fatalf("Expected deduplicated partition with 1 entry, got %d", len(entries))
	}
	if entries[0].UserEmail == nil || *entries[0].UserEmail != "dpo@example.org" {
		t.Errorf("Expected the live copy to win the merge, got %+v", entries[0])
	}
}

func TestArchiveModuleForTenantPreservesRawBytes(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)
	ctx := context.Background()

	// An entry carrying fields the portal never modeled.
	key := history.EntryKey(history.ModuleTraitement, "tenant1", "e1")
	raw := fmt.Sprintf(`{"key":%q,"timestamp":"2021-03-01T00:00:00Z","action":"created","nom_traitement":"Gestion RH","sous_traitants":["OVH"]}`, key)
	if err := store.Set(ctx, key, []byte(raw)); err != nil {
		t.Fatalf("store entry: %v", err)
	}

	if _, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1"); err != nil {
		t.Fatalf("ArchiveModuleForTenant failed: %v", err)
	}

	data, err := blobs.Download(ctx, DefaultBucket, PartitionPath(history.ModuleTraitement, "tenant1", 2021))
	if err != nil {
		t.Fatalf("download partition: %v", err)
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		t.Fatalf("parse partition: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("Expected 1 raw entry, got %d", len(raws))
	}
	// Indentation aside, the stored bytes pass through untouched: same
	// fields, same order, same values.
	var compact bytes.Buffer
	if err := json.Compact(&compact, raws[0]); err != nil {
		t.Fatalf("compact archived entry: %v", err)
	}
	if compact.String() != raw {
		t.Errorf("Expected untouched stored bytes in partition, got %s", compact.String())
	}
}

func TestArchiveModuleForTenantSkipsUndateableEntries(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)
	ctx := context.Background()

	// No timestamp field and no millisecond prefix in the entry ID.
	key := history.EntryKey(history.ModuleTraitement, "tenant1", "record-42")
	if err := store.Set(ctx, key, []byte(`{"action":"created"}`)); err != nil {
		t.Fatalf("store entry: %v", err)
	}
	putEntry(t, store, history.ModuleTraitement, "tenant1", "e1", time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC))

	for run := 0; run < 2; run++ {
		result, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1")
		if err != nil {
			t.Fatalf("Run %d failed: %v", run, err)
		}
		if result.Errors != 0 {
			t.Errorf("Run %d: expected no errors, got %+v", run, result)
		}
	}

	keys := liveKeys(t, store, history.ModuleTraitement, "tenant1")
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("Expected the undateable entry to stay live across runs, got %v", keys)
	}
}

func TestArchiveModuleForTenantKeyEmbeddedTimeFallback(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)
	ctx := context.Background()

	// Legacy entry: no timestamp field, creation time only in the ID.
	created := time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC)
	entryID := history.NewEntryID(created, "abc123")
	key := history.EntryKey(history.ModuleDemande, "tenant1", entryID)
	if err := store.Set(ctx, key, []byte(`{"action":"created"}`)); err != nil {
		t.Fatalf("store entry: %v", err)
	}

	result, err := a.ArchiveModuleForTenant(ctx, history.ModuleDemande, "tenant1")
	if err != nil {
		t.Fatalf("ArchiveModuleForTenant failed: %v", err)
	}
	if result.Archived != 1 {
		t.Errorf("Expected legacy entry archived via key-embedded time, got %+v", result)
	}
	if entries := partitionEntries(t, blobs, history.ModuleDemande, "tenant1", 2021); len(entries) != 1 {
		t.Errorf("Expected 2021 partition for legacy entry, got %d entries", len(entries))
	}
}

func TestArchiveModuleForTenantUploadCap(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	dir := tenants.NewStoreDirectory(store)
	a := New(store, blobs, dir, Config{MaxUploadBytes: 64})
	a.SetClock(func() time.Time { return testNow })
	ctx := context.Background()

	putEntry(t, store, history.ModuleTraitement, "tenant1", "e1", time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC))

	result, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1")
	if err != nil {
		t.Fatalf("ArchiveModuleForTenant failed: %v", err)
	}
	if result.Archived != 0 || result.Errors != 1 {
		t.Errorf("Expected oversized partition to fail, got %+v", result)
	}
	if len(liveKeys(t, store, history.ModuleTraitement, "tenant1")) != 1 {
		t.Error("Expected entry to stay live after cap rejection")
	}
}

func TestArchiveModuleForTenantConcurrentRunRejected(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)

	lockKey := string(history.ModuleTraitement) + ":tenant1"
	if !a.locks.tryAcquire(lockKey) {
		t.Fatal("tryAcquire failed on fresh lock")
	}
	defer a.locks.release(lockKey)

	_, err := a.ArchiveModuleForTenant(context.Background(), history.ModuleTraitement, "tenant1")
	if !errors.Is(err, ErrArchiveInProgress) {
		t.Errorf("Expected ErrArchiveInProgress, got %v", err)
	}

	// A different pair is unaffected.
	if _, err := a.ArchiveModuleForTenant(context.Background(), history.ModuleTraitement, "tenant2"); err != nil {
		t.Errorf("Expected other pair to proceed, got %v", err)
	}
}

func TestArchiveModuleForTenantOnArchiveCallback(t *testing.T) {
	store := newTestKV(t)
	blobs := newFakeBlob()
	a := newTestArchiver(t, store, blobs)
	ctx := context.Background()

	var fired []string
	a.OnArchive(func(module history.Module, tenantID string) {
		fired = append(fired, string(module)+":"+tenantID)
	})

	// Nothing eligible: the callback stays quiet.
	if _, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1"); err != nil {
		t.Fatalf("ArchiveModuleForTenant failed: %v", err)
	}
	if len(fired) != 0 {
		t.Errorf("Expected no callback for an empty run, got %v", fired)
	}

	putEntry(t, store, history.ModuleTraitement, "tenant1", "e1", time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC))
	if _, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1"); err != nil {
		t.Fatalf("ArchiveModuleForTenant failed: %v", err)
	}
	if len(fired) != 1 || fired[0] != "traitement:tenant1" {
		t.Errorf("Expected one callback for the migrating run, got %v", fired)
	}

	// A failed partition still fires: its upload may have rewritten the
	// partition before the run failed.
	putEntry(t, store, history.ModuleTraitement, "tenant1", "e2", time.Date(2021, time.April, 1, 0, 0, 0, 0, time.UTC))
	blobs.failUploads[PartitionPath(history.ModuleTraitement, "tenant1", 2021)] = true
	if _, err := a.ArchiveModuleForTenant(ctx, history.ModuleTraitement, "tenant1"); err != nil {
		t.Fatalf("ArchiveModuleForTenant failed: %v", err)
	}
	if len(fired) != 2 {
		t.Errorf("Expected callback after a failed partition, got %v", fired)
	}
}

func TestPartitionPath(t *testing.T) {
	got := PartitionPath(history.ModuleTraitement, "tenant1", 2021)
	if got != "traitement/tenant1/2021/history.json" {
		t.Errorf("Unexpected partition path %s", got)
	}
}

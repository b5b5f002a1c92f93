// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/dpordesk/dpordesk/internal/kvstore"
)

// Recorder appends audit-log entries to the live store. The portal's
// register write paths call Append whenever a tracked record changes.
type Recorder struct {
	store kvstore.Store
	now   func() time.Time

	// onAppend, when set, runs after a successful append. Wired to
	// response-cache invalidation so stale history views never outlive
	// a write.
	onAppend func(module Module, tenantID string)
}

// NewRecorder creates a Recorder over the live store.
func NewRecorder(store kvstore.Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// OnAppend registers a callback invoked after each successful append.
func (r *Recorder) OnAppend(fn func(module Module, tenantID string)) {
	r.onAppend = fn
}

// SetClock overrides the recorder's clock. Test hook.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Append stamps and stores one entry. The entry's Key and Timestamp are
// assigned here; callers fill Action, Changes, attribution, and any
// module-specific Extra fields.
func (r *Recorder) Append(ctx context.Context, module Module, tenantID string, entry Entry) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("history append: tenant id must not be empty")
	}
	if entry.Action != ActionCreated && entry.Action != ActionUpdated {
		return "", fmt.Errorf("history append: invalid action %q", entry.Action)
	}
	if entry.Action == ActionCreated && len(entry.Changes) > 0 {
		return "", fmt.Errorf("history append: changes are only valid for %s entries", ActionUpdated)
	}

	now := r.now().UTC()
	entryID := NewEntryID(now, uuid.NewString()[:8])
	entry.Key = EntryKey(module, tenantID, entryID)
	entry.Timestamp = now.Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("history append: marshal entry: %w", err)
	}
	if err := r.store.Set(ctx, entry.Key, data); err != nil {
		return "", fmt.Errorf("history append: store entry: %w", err)
	}

	if r.onAppend != nil {
		r.onAppend(module, tenantID)
	}
	return entry.Key, nil
}

// LiveHistory returns every live entry for one (module, tenant) pair,
// newest first.
func LiveHistory(ctx context.Context, store kvstore.Store, module Module, tenantID string) ([]Entry, error) {
	pairs, err := store.ScanPrefix(ctx, KeyPrefix(module, tenantID))
	if err != nil {
		return nil, fmt.Errorf("scan %s history for tenant %s: %w", module, tenantID, err)
	}

	entries := make([]Entry, 0, len(pairs))
	for _, kv := range pairs {
		var entry Entry
		if err := json.Unmarshal(kv.Value, &entry); err != nil {
			// A corrupt entry must not break the history view.
			continue
		}
		entry.Key = kv.Key
		entries = append(entries, entry)
	}

	sortEntriesDesc(entries)
	return entries, nil
}

// sortEntriesDesc orders entries newest first. Entries with no
// derivable time sort last, in key order.
func sortEntriesDesc(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ti, iok := EffectiveTimestamp(&entries[i])
		tj, jok := EffectiveTimestamp(&entries[j])
		if iok != jok {
			return iok
		}
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return entries[i].Key > entries[j].Key
	})
}

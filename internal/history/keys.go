// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// keySuffix separates the module name from the rest of a history key.
const keySuffix = "_history"

// EntryKey builds the live-store key for an entry:
// {module}_history:{tenantID}:{entryID}.
func EntryKey(module Module, tenantID, entryID string) string {
	return fmt.Sprintf("%s%s:%s:%s", module, keySuffix, tenantID, entryID)
}

// KeyPrefix returns the live-store scan prefix covering every entry of
// one (module, tenant) pair.
func KeyPrefix(module Module, tenantID string) string {
	return fmt.Sprintf("%s%s:%s:", module, keySuffix, tenantID)
}

// ParseKey splits a live-store key into its module, tenant, and entry
// ID components. Tenant IDs never contain ':'; entry IDs may.
func ParseKey(key string) (Module, string, string, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed history key %q", key)
	}
	moduleName, ok := strings.CutSuffix(parts[0], keySuffix)
	if !ok {
		return "", "", "", fmt.Errorf("history key %q missing %s suffix", key, keySuffix)
	}
	module, err := ParseModule(moduleName)
	if err != nil {
		return "", "", "", fmt.Errorf("history key %q: %w", key, err)
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("history key %q has empty components", key)
	}
	return module, parts[1], parts[2], nil
}

// NewEntryID generates an entry ID carrying a millisecond-epoch prefix,
// the format the portal has used since before timestamp tagging. The
// prefix keeps legacy-style IDs derivable back to a creation time.
func NewEntryID(now time.Time, suffix string) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// timeFromEntryID recovers a creation time from a legacy entry ID of
// the form {epochMillis}-{suffix}. Returns false for any other shape.
func timeFromEntryID(entryID string) (time.Time, bool) {
	prefix, _, found := strings.Cut(entryID, "-")
	if !found {
		return time.Time{}, false
	}
	// Millisecond epochs are 13 digits for any plausible date; shorter
	// prefixes are register record numbers, not times.
	if len(prefix) != 13 {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis).UTC(), true
}

// EffectiveTimestamp resolves the archival-relevant time of an entry:
// the stored timestamp when present, otherwise the time embedded in the
// key's entry-ID prefix. Returns false when neither exists; such an
// entry is never eligible for archival.
func EffectiveTimestamp(e *Entry) (time.Time, bool) {
	if t, ok := e.ParsedTimestamp(); ok {
		return t, true
	}
	_, _, entryID, err := ParseKey(e.Key)
	if err != nil {
		return time.Time{}, false
	}
	return timeFromEntryID(entryID)
}

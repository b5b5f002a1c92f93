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
	"strconv"

	"github.com/goccy/go-json"

	"github.com/dpordesk/dpordesk/internal/blob"
	"github.com/dpordesk/dpordesk/internal/history"
	"github.com/dpordesk/dpordesk/internal/logging"
)

// Reader provides read-only access to previously written partitions
// for the "older than the retention threshold" history views.
type Reader struct {
	blobs  blob.Store
	bucket string
}

// NewReader creates a Reader over the given bucket.
func NewReader(blobs blob.Store, bucket string) *Reader {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Reader{blobs: blobs, bucket: bucket}
}

// ArchivedHistory fetches and parses one year partition. A missing or
// unparseable partition yields an empty list, never an error: a broken
// cold-storage read must degrade the history view, not break it.
func (r *Reader) ArchivedHistory(ctx context.Context, module history.Module, tenantID string, year int) []history.Entry {
	path := PartitionPath(module, tenantID, year)

	data, err := r.blobs.Download(ctx, r.bucket, path)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.Debug().Err(err).Str("path", path).Msg("Archive partition unavailable")
		}
		return nil
	}

	var entries []history.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Archive partition failed to parse")
		return nil
	}
	return entries
}

// ArchivedYears lists the years that have a partition for the given
// (module, tenant) pair, most recent first. Non-numeric sibling paths
// are skipped.
func (r *Reader) ArchivedYears(ctx context.Context, module history.Module, tenantID string) ([]int, error) {
	prefix := fmt.Sprintf("%s/%s/", module, tenantID)
	names, err := r.blobs.List(ctx, r.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list archived years under %s: %w", prefix, err)
	}

	years := make([]int, 0, len(names))
	for _, name := range names {
		year, err := strconv.Atoi(name)
		if err != nil || year < 1000 || year > 9999 {
			continue
		}
		years = append(years, year)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years, nil
}

// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

// Package kvstore provides the flat keyed store that holds live
// audit-log entries and tenant records.
//
// The store contract is deliberately minimal: get/set/delete, a prefix
// scan, and a transactional multi-delete. The archiver depends only on
// this interface, never on the backing client library.
package kvstore

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get for absent keys.
var ErrKeyNotFound = errors.New("kvstore: key not found")

// KV is one scanned key/value pair. Values are opaque bytes; the store
// never interprets them.
type KV struct {
	Key   string
	Value []byte
}

// Store is the live keyed store contract.
type Store interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanPrefix returns every pair whose key starts with prefix,
	// in key order.
	ScanPrefix(ctx context.Context, prefix string) ([]KV, error)

	// DeleteKeys removes all given keys in one transaction. Absent
	// keys are tolerated; either all keys are deleted or none are.
	DeleteKeys(ctx context.Context, keys []string) error
}

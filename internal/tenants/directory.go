// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

// Package tenants enumerates the client organizations the portal
// manages. The fleet-wide archive sweep iterates this directory.
package tenants

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/dpordesk/dpordesk/internal/kvstore"
)

// keyPrefix namespaces tenant records in the keyed store.
const keyPrefix = "tenant:"

// Directory lists all known tenants.
type Directory interface {
	// ListAll returns the IDs of every registered tenant.
	ListAll(ctx context.Context) ([]string, error)
}

// Record is the stored tenant document.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// StoreDirectory implements Directory over the keyed store, with
// tenants registered under tenant:{tenantID} keys.
type StoreDirectory struct {
	store kvstore.Store
}

// NewStoreDirectory creates a tenant directory backed by store.
func NewStoreDirectory(store kvstore.Store) *StoreDirectory {
	return &StoreDirectory{store: store}
}

// Register stores (or overwrites) a tenant record.
func (d *StoreDirectory) Register(ctx context.Context, id, name string) error {
	if id == "" {
		return fmt.Errorf("tenant id must not be empty")
	}
	if strings.Contains(id, ":") {
		return fmt.Errorf("tenant id %q must not contain ':'", id)
	}
	data, err := json.Marshal(Record{ID: id, Name: name, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal tenant %s: %w", id, err)
	}
	return d.store.Set(ctx, keyPrefix+id, data)
}

// Get returns one tenant record.
func (d *StoreDirectory) Get(ctx context.Context, id string) (*Record, error) {
	data, err := d.store.Get(ctx, keyPrefix+id)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal tenant %s: %w", id, err)
	}
	return &rec, nil
}

// ListAll returns the IDs of every registered tenant in key order.
func (d *StoreDirectory) ListAll(ctx context.Context) ([]string, error) {
	pairs, err := d.store.ScanPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan tenants: %w", err)
	}
	ids := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		ids = append(ids, strings.TrimPrefix(kv.Key, keyPrefix))
	}
	return ids, nil
}

// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package tenants

import (
	"context"
	"errors"
	"testing"

	"github.com/dpordesk/dpordesk/internal/kvstore"
)

func newTestDirectory(t *testing.T) *StoreDirectory {
	t.Helper()
	store, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewStoreDirectory(store)
}

func TestRegisterAndGet(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	if err := dir.Register(ctx, "cabinet-durand", "Cabinet Durand"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	rec, err := dir.Get(ctx, "cabinet-durand")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.ID != "cabinet-durand" || rec.Name != "Cabinet Durand" {
		t.Errorf("Unexpected record %+v", rec)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}

	if _, err := dir.Get(ctx, "ghost"); !errors.Is(err, kvstore.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound for absent tenant, got %v", err)
	}
}

func TestRegisterRejectsInvalidIDs(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	if err := dir.Register(ctx, "", "Nameless"); err == nil {
		t.Error("Expected error for empty tenant ID")
	}
	if err := dir.Register(ctx, "a:b", "Colonized"); err == nil {
		t.Error("Expected error for tenant ID containing ':'")
	}
}

func TestListAll(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	ids, err := dir.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected empty directory, got %v", ids)
	}

	for _, id := range []string{"tenant-b", "tenant-a", "tenant-c"} {
		if err := dir.Register(ctx, id, id); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	ids, err = dir.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("Expected 3 tenants, got %d", len(ids))
	}
	// Key order.
	if ids[0] != "tenant-a" || ids[1] != "tenant-b" || ids[2] != "tenant-c" {
		t.Errorf("Expected ordered IDs, got %v", ids)
	}
}

func TestRegisterOverwrites(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	if err := dir.Register(ctx, "tenant1", "Old Name"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := dir.Register(ctx, "tenant1", "New Name"); err != nil {
		t.Fatalf("Re-register failed: %v", err)
	}

	rec, err := dir.Get(ctx, "tenant1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Name != "New Name" {
		t.Errorf("Expected updated name, got %s", rec.Name)
	}

	ids, err := dir.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("Expected 1 tenant after overwrite, got %v", ids)
	}
}

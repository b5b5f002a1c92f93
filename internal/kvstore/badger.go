// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/dpordesk/dpordesk/internal/logging"
)

// Badger implements Store on BadgerDB. Suitable for production use
// with persistence across restarts; OpenInMemory serves tests.
type Badger struct {
	db *badger.DB
}

// Open opens (or creates) a BadgerDB store at path.
func Open(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is noisy; we log at the store boundary
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	logging.Info().Str("path", path).Msg("Keyed store opened")
	return &Badger{db: db}, nil
}

// OpenInMemory opens an ephemeral in-memory store for tests.
func OpenInMemory() (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close closes the underlying database.
func (s *Badger) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key, or ErrKeyNotFound.
func (s *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores value under key.
func (s *Badger) Set(ctx context.Context, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Badger) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
}

// ScanPrefix returns every pair under prefix in key order.
func (s *Badger) ScanPrefix(ctx context.Context, prefix string) ([]KV, error) {
	var pairs []KV
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", item.Key(), err)
			}
			pairs = append(pairs, KV{Key: string(item.Key()), Value: value})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// DeleteKeys removes all given keys in a single transaction. A year
// partition never approaches badger's transaction limit, so an
// ErrTxnTooBig here is surfaced as a plain error: the caller counts it
// and the entries stay live for the next run.
func (s *Badger) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		return nil
	})
}

// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package archive

import (
	"errors"
	"sync"
)

// ErrArchiveInProgress is returned when an archival run for the same
// (module, tenant) pair is already in flight. Concurrent runs for the
// same pair could delete entries another run just uploaded, so the
// second caller fails fast instead.
var ErrArchiveInProgress = errors.New("archive: run already in progress for this module and tenant")

// pairLocks is an in-process advisory lock keyed by module:tenantID.
type pairLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newPairLocks() *pairLocks {
	return &pairLocks{held: make(map[string]struct{})}
}

// tryAcquire takes the lock for key, returning false if it is held.
func (l *pairLocks) tryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *pairLocks) release(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}

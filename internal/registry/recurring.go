// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package registry

import (
	"sync"

	"github.com/autobrr/strikarr/pkg/hashutil"
)

// RecurringHashes is the set of download ids that were struck again after
// reaching their limit. Lookups ignore case.
type RecurringHashes struct {
	mu     sync.RWMutex
	hashes map[string]struct{}
}

func NewRecurringHashes() *RecurringHashes {
	return &RecurringHashes{hashes: make(map[string]struct{})}
}

func normalizeHash(hash string) string {
	return hashutil.Normalize(hash)
}

func (r *RecurringHashes) Add(hash string) {
	r.mu.Lock()
	r.hashes[normalizeHash(hash)] = struct{}{}
	r.mu.Unlock()
}

func (r *RecurringHashes) Contains(hash string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hashes[normalizeHash(hash)]
	return ok
}

// Remove deletes hash and reports whether it was present.
func (r *RecurringHashes) Remove(hash string) bool {
	key := normalizeHash(hash)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hashes[key]; !ok {
		return false
	}
	delete(r.hashes, key)
	return true
}

func (r *RecurringHashes) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hashes)
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package registry holds the process-wide mutable state shared by the queue
// cleaner, the striker and the remover. A Registry is created once at startup
// and passed to each service; tests create their own.
package registry

import "time"

type Registry struct {
	Dedup     *DedupCache
	Recurring *RecurringHashes
}

func New(dedupTTL time.Duration) *Registry {
	return &Registry{
		Dedup:     NewDedupCache(dedupTTL),
		Recurring: NewRecurringHashes(),
	}
}

func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.Dedup.Close()
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package events

import (
	"context"
	"sync"
)

// Recorder keeps published events in memory. The run command uses it to print
// a pass summary and tests use it to assert on outcomes.
type Recorder struct {
	mu sync.Mutex

	Strikes            []Strike
	Recurring          []Strike
	Deleted            []QueueItemDeleted
	SearchNotTriggered []Search
	SearchTriggered    []Search

	next Publisher
}

// NewRecorder returns a Recorder that also forwards to next when it is not nil.
func NewRecorder(next Publisher) *Recorder {
	return &Recorder{next: next}
}

var _ Publisher = (*Recorder)(nil)

func (r *Recorder) PublishStrike(ctx context.Context, strike Strike) {
	r.mu.Lock()
	r.Strikes = append(r.Strikes, strike)
	r.mu.Unlock()
	if r.next != nil {
		r.next.PublishStrike(ctx, strike)
	}
}

func (r *Recorder) PublishRecurringItem(ctx context.Context, strike Strike) {
	r.mu.Lock()
	r.Recurring = append(r.Recurring, strike)
	r.mu.Unlock()
	if r.next != nil {
		r.next.PublishRecurringItem(ctx, strike)
	}
}

func (r *Recorder) PublishQueueItemDeleted(ctx context.Context, deleted QueueItemDeleted) {
	r.mu.Lock()
	r.Deleted = append(r.Deleted, deleted)
	r.mu.Unlock()
	if r.next != nil {
		r.next.PublishQueueItemDeleted(ctx, deleted)
	}
}

func (r *Recorder) PublishSearchNotTriggered(ctx context.Context, search Search) {
	r.mu.Lock()
	r.SearchNotTriggered = append(r.SearchNotTriggered, search)
	r.mu.Unlock()
	if r.next != nil {
		r.next.PublishSearchNotTriggered(ctx, search)
	}
}

func (r *Recorder) PublishSearchTriggered(ctx context.Context, search Search) {
	r.mu.Lock()
	r.SearchTriggered = append(r.SearchTriggered, search)
	r.mu.Unlock()
	if r.next != nil {
		r.next.PublishSearchTriggered(ctx, search)
	}
}

// Counts is a snapshot of how many events of each kind were recorded.
type Counts struct {
	Strikes            int
	Recurring          int
	Deleted            int
	SearchNotTriggered int
	SearchTriggered    int
}

func (r *Recorder) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Counts{
		Strikes:            len(r.Strikes),
		Recurring:          len(r.Recurring),
		Deleted:            len(r.Deleted),
		SearchNotTriggered: len(r.SearchNotTriggered),
		SearchTriggered:    len(r.SearchTriggered),
	}
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package striker is the persistent strike ledger. It decides when a download
// has collected enough strikes to be removed.
package striker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/strikarr/internal/dbinterface"
	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/registry"
	"github.com/autobrr/strikarr/internal/services/events"
	"github.com/autobrr/strikarr/pkg/hashutil"
)

type jobRunKey struct{}

// WithJobRun tags strikes recorded under ctx with the given job run.
func WithJobRun(ctx context.Context, jobRunID int64) context.Context {
	return context.WithValue(ctx, jobRunKey{}, jobRunID)
}

// JobRunFromContext returns the job run id set by WithJobRun.
func JobRunFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(jobRunKey{}).(int64)
	return id, ok && id > 0
}

type Striker struct {
	strikes   *models.StrikeStore
	items     *models.DownloadItemStore
	recurring *registry.RecurringHashes
	publisher events.Publisher

	mu    sync.Mutex // protects locks
	locks map[string]*hashLock
}

type hashLock struct {
	mu   sync.Mutex
	refs int
}

func New(db dbinterface.TxBeginner, recurring *registry.RecurringHashes, publisher events.Publisher) *Striker {
	return &Striker{
		strikes:   models.NewStrikeStore(db),
		items:     models.NewDownloadItemStore(db),
		recurring: recurring,
		publisher: publisher,
		locks:     make(map[string]*hashLock),
	}
}

// lock serializes ledger updates for one download within this process.
func (s *Striker) lock(hash string) func() {
	key := hashutil.Normalize(hash)

	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &hashLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// StrikeAndCheckLimit records one strike of strikeType and reports whether the
// download should be removed now. A maxStrikes of 0 disables the strike type.
// Persistence errors are returned; the caller must not treat them as "keep".
func (s *Striker) StrikeAndCheckLimit(ctx context.Context, hash, title string, maxStrikes int, strikeType models.StrikeType, lastDownloadedBytes *int64) (bool, error) {
	if maxStrikes == 0 {
		return false, nil
	}

	unlock := s.lock(hash)
	defer unlock()

	in := models.StrikeInput{
		DownloadID:          hash,
		Title:               title,
		Type:                strikeType,
		MaxStrikes:          maxStrikes,
		LastDownloadedBytes: lastDownloadedBytes,
	}
	if id, ok := JobRunFromContext(ctx); ok {
		in.JobRunID = &id
	}

	outcome, err := s.strikes.Record(ctx, in)
	if err != nil {
		return false, fmt.Errorf("record %s strike for %s: %w", strikeType, hash, err)
	}

	if outcome.Returned {
		// tracked again from scratch; a repeat offence below re-adds it
		s.recurring.Remove(hash)
		log.Debug().Str("downloadId", hash).Str("title", title).Msg("striker: removed download returned to the queue")
	}

	strike := events.Strike{
		DownloadID: hash,
		Title:      title,
		Type:       strikeType,
		Count:      outcome.Count,
		MaxStrikes: maxStrikes,
	}
	s.publish(func(p events.Publisher) { p.PublishStrike(ctx, strike) })

	switch {
	case outcome.Count < maxStrikes:
		return false, nil
	case outcome.Count == maxStrikes:
		return true, nil
	default:
		s.recurring.Add(hash)
		s.publish(func(p events.Publisher) { p.PublishRecurringItem(ctx, strike) })
		return true, nil
	}
}

// ResetStrike drops every strike of strikeType for the download.
func (s *Striker) ResetStrike(ctx context.Context, hash, title string, strikeType models.StrikeType) error {
	unlock := s.lock(hash)
	defer unlock()

	deleted, err := s.strikes.DeleteByType(ctx, hash, strikeType)
	if err != nil {
		return fmt.Errorf("reset %s strikes for %s: %w", strikeType, hash, err)
	}

	if deleted > 0 {
		log.Info().
			Str("downloadId", hash).
			Str("title", title).
			Str("type", string(strikeType)).
			Int64("strikes", deleted).
			Msg("striker: strikes reset after progress")
	}

	return nil
}

// HasProgressed reports whether downloadedBytes moved past the value stored
// with the latest strike of strikeType. With no stored value there is nothing
// to compare against and it reports false.
func (s *Striker) HasProgressed(ctx context.Context, hash string, strikeType models.StrikeType, downloadedBytes int64) (bool, error) {
	last, err := s.strikes.LastDownloadedBytes(ctx, hash, strikeType)
	if err != nil {
		return false, fmt.Errorf("load last downloaded bytes for %s: %w", hash, err)
	}
	if last == nil {
		return false, nil
	}

	return downloadedBytes > *last, nil
}

// MarkRemoved flags the download as deleted from its queue. A download that was
// never struck has no ledger row and is ignored.
func (s *Striker) MarkRemoved(ctx context.Context, hash string) error {
	unlock := s.lock(hash)
	defer unlock()

	err := s.items.MarkRemoved(ctx, hash)
	if errors.Is(err, models.ErrDownloadItemNotFound) {
		return nil
	}
	return err
}

// StrikeCount returns the current number of strikes of strikeType.
func (s *Striker) StrikeCount(ctx context.Context, hash string, strikeType models.StrikeType) (int, error) {
	return s.strikes.Count(ctx, hash, strikeType)
}

func (s *Striker) publish(fn func(events.Publisher)) {
	if s.publisher == nil {
		return
	}
	fn(s.publisher)
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package remover deletes queue items from *arr instances and hands the
// replacement search to the hunter.
package remover

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/strikarr/internal/domain"
	"github.com/autobrr/strikarr/internal/metrics/collector"
	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/registry"
	"github.com/autobrr/strikarr/internal/services/arr"
	"github.com/autobrr/strikarr/internal/services/events"
	"github.com/autobrr/strikarr/internal/services/hunter"
	arrapi "github.com/autobrr/strikarr/pkg/arr"
)

// ErrQueueItemAlreadyDeleted is returned when the instance no longer has the
// queue item.
var ErrQueueItemAlreadyDeleted = errors.New("item may already have been deleted")

// ArrClient deletes queue items.
type ArrClient interface {
	DeleteQueueItem(ctx context.Context, instance models.ArrInstance, record arrapi.QueueRecord, removeFromClient bool, reason models.DeleteReason) error
}

// Striker flags removed downloads in the strike ledger.
type Striker interface {
	MarkRemoved(ctx context.Context, hash string) error
}

// Enqueuer accepts replacement search requests.
type Enqueuer interface {
	Enqueue(req hunter.Request) bool
}

// SettingsFunc returns the current configuration snapshot.
type SettingsFunc func() domain.Config

// QueueItemRemoveRequest describes one removal.
type QueueItemRemoveRequest struct {
	Instance         models.ArrInstance
	Record           arrapi.QueueRecord
	SearchItems      []arr.SearchItem
	RemoveFromClient bool
	DeleteReason     models.DeleteReason
}

type Deps struct {
	Arr       ArrClient
	Striker   Striker
	Dedup     *registry.DedupCache
	Recurring *registry.RecurringHashes
	Hunter    Enqueuer
	Publisher events.Publisher
	Metrics   *collector.QueueCleanerCollector
	Settings  SettingsFunc
}

type Remover struct {
	deps Deps
}

func New(deps Deps) *Remover {
	return &Remover{deps: deps}
}

// RemoveQueueItem deletes the item, announces the deletion and either queues a
// replacement search or, for a download that keeps coming back, skips it. The
// dedup entry for the item is released on return.
func (r *Remover) RemoveQueueItem(ctx context.Context, req QueueItemRemoveRequest) error {
	hash := req.Record.DownloadID
	if r.deps.Dedup != nil {
		defer r.deps.Dedup.Release(hash, req.Instance.URL)
	}

	dryRun := false
	if r.deps.Settings != nil {
		dryRun = r.deps.Settings().General.DryRun
	}

	logger := log.With().
		Str("instance", req.Instance.Label()).
		Str("downloadId", hash).
		Str("title", req.Record.Title).
		Str("reason", req.DeleteReason.String()).
		Logger()

	if dryRun {
		logger.Debug().Bool("removeFromClient", req.RemoveFromClient).Msg("remover: dry run, queue item not deleted")
	} else {
		if err := r.deps.Arr.DeleteQueueItem(ctx, req.Instance, req.Record, req.RemoveFromClient, req.DeleteReason); err != nil {
			if arr.IsNotFound(err) {
				logger.Warn().Msg("remover: queue item not found")
				return fmt.Errorf("%s on %s: %w", hash, req.Instance.Label(), ErrQueueItemAlreadyDeleted)
			}
			r.deps.Metrics.RecordRemovalError(req.Instance.Label())
			return fmt.Errorf("delete queue item %s on %s: %w", hash, req.Instance.Label(), err)
		}

		if r.deps.Striker != nil {
			if err := r.deps.Striker.MarkRemoved(ctx, hash); err != nil {
				logger.Error().Err(err).Msg("remover: could not mark download removed")
			}
		}
	}

	r.publish(func(p events.Publisher) {
		p.PublishQueueItemDeleted(ctx, events.QueueItemDeleted{
			DownloadID:       hash,
			Title:            req.Record.Title,
			InstanceName:     req.Instance.Label(),
			InstanceURL:      req.Instance.URL,
			Reason:           req.DeleteReason,
			RemoveFromClient: req.RemoveFromClient,
			DryRun:           dryRun,
		})
	})

	search := events.Search{
		DownloadID:   hash,
		Title:        req.Record.Title,
		InstanceName: req.Instance.Label(),
		InstanceURL:  req.Instance.URL,
		DryRun:       dryRun,
	}

	if r.deps.Recurring != nil && r.deps.Recurring.Contains(hash) {
		logger.Debug().Msg("remover: recurring download, replacement search skipped")
		r.publish(func(p events.Publisher) { p.PublishSearchNotTriggered(ctx, search) })
		r.deps.Recurring.Remove(hash)
		return nil
	}

	if r.deps.Hunter == nil || len(req.SearchItems) == 0 {
		logger.Debug().Msg("remover: nothing to search for")
		return nil
	}

	r.deps.Hunter.Enqueue(hunter.Request{
		Instance:   req.Instance,
		DownloadID: hash,
		Title:      req.Record.Title,
		Items:      req.SearchItems,
	})
	return nil
}

func (r *Remover) publish(fn func(events.Publisher)) {
	if r.deps.Publisher == nil {
		return
	}
	fn(r.deps.Publisher)
}

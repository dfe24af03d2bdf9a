// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package events is the audit and notification sink for queue cleaning outcomes.
// Publishing never fails from the caller's point of view.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/strikarr/internal/metrics/collector"
	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/services/notifications"
)

type Publisher interface {
	PublishStrike(ctx context.Context, strike Strike)
	PublishRecurringItem(ctx context.Context, strike Strike)
	PublishQueueItemDeleted(ctx context.Context, deleted QueueItemDeleted)
	PublishSearchNotTriggered(ctx context.Context, search Search)
	PublishSearchTriggered(ctx context.Context, search Search)
}

type Strike struct {
	DownloadID string            `json:"downloadId"`
	Title      string            `json:"title"`
	Type       models.StrikeType `json:"type"`
	Count      int               `json:"count"`
	MaxStrikes int               `json:"maxStrikes"`
}

type QueueItemDeleted struct {
	DownloadID       string              `json:"downloadId"`
	Title            string              `json:"title"`
	InstanceName     string              `json:"instanceName"`
	InstanceURL      string              `json:"instanceUrl"`
	Reason           models.DeleteReason `json:"reason"`
	RemoveFromClient bool                `json:"removeFromClient"`
	DryRun           bool                `json:"dryRun,omitempty"`
}

type Search struct {
	DownloadID   string `json:"downloadId"`
	Title        string `json:"title"`
	InstanceName string `json:"instanceName"`
	InstanceURL  string `json:"instanceUrl"`
	DryRun       bool   `json:"dryRun,omitempty"`
}

// Service persists each event, logs it, records metrics and forwards it to
// the notifier. Any of store, metrics and notifier may be nil.
type Service struct {
	store    *models.EventStore
	metrics  *collector.QueueCleanerCollector
	notifier notifications.Notifier
}

func NewService(store *models.EventStore, metrics *collector.QueueCleanerCollector, notifier notifications.Notifier) *Service {
	return &Service{store: store, metrics: metrics, notifier: notifier}
}

var _ Publisher = (*Service)(nil)

func (s *Service) PublishStrike(ctx context.Context, strike Strike) {
	log.Info().
		Str("downloadId", strike.DownloadID).
		Str("title", strike.Title).
		Str("type", string(strike.Type)).
		Int("strikes", strike.Count).
		Int("maxStrikes", strike.MaxStrikes).
		Msg("events: strike recorded")

	s.metrics.RecordStrike(string(strike.Type))
	s.persist(ctx, &models.Event{
		EventType:  models.EventTypeStrike,
		Severity:   models.EventSeverityInfo,
		DownloadID: strike.DownloadID,
		Title:      strike.Title,
		Message:    fmt.Sprintf("%s strike %d/%d", strike.Type, strike.Count, strike.MaxStrikes),
	}, strike)
	s.notify(notifications.Event{
		Type:          notifications.EventStrike,
		DownloadID:    strike.DownloadID,
		DownloadTitle: strike.Title,
		StrikeType:    string(strike.Type),
		Strikes:       strike.Count,
		MaxStrikes:    strike.MaxStrikes,
	})
}

func (s *Service) PublishRecurringItem(ctx context.Context, strike Strike) {
	log.Warn().
		Str("downloadId", strike.DownloadID).
		Str("title", strike.Title).
		Str("type", string(strike.Type)).
		Int("strikes", strike.Count).
		Msg("events: download is recurring after removal")

	s.metrics.RecordRecurring()
	s.persist(ctx, &models.Event{
		EventType:  models.EventTypeRecurringItem,
		Severity:   models.EventSeverityImportant,
		DownloadID: strike.DownloadID,
		Title:      strike.Title,
		Message:    fmt.Sprintf("struck %d times with a limit of %d", strike.Count, strike.MaxStrikes),
	}, strike)
	s.notify(notifications.Event{
		Type:          notifications.EventRecurringItem,
		DownloadID:    strike.DownloadID,
		DownloadTitle: strike.Title,
		StrikeType:    string(strike.Type),
		Strikes:       strike.Count,
		MaxStrikes:    strike.MaxStrikes,
	})
}

func (s *Service) PublishQueueItemDeleted(ctx context.Context, deleted QueueItemDeleted) {
	log.Info().
		Str("downloadId", deleted.DownloadID).
		Str("title", deleted.Title).
		Str("instance", deleted.InstanceName).
		Str("reason", deleted.Reason.String()).
		Bool("removeFromClient", deleted.RemoveFromClient).
		Bool("dryRun", deleted.DryRun).
		Msg("events: queue item deleted")

	s.metrics.RecordRemoval(deleted.InstanceName, deleted.Reason.String())
	s.persist(ctx, &models.Event{
		EventType:   models.EventTypeQueueItemDeleted,
		Severity:    models.EventSeverityImportant,
		DownloadID:  deleted.DownloadID,
		InstanceURL: deleted.InstanceURL,
		Title:       deleted.Title,
		Message:     "removed: " + deleted.Reason.String(),
	}, deleted)
	s.notify(notifications.Event{
		Type:             notifications.EventQueueItemDeleted,
		InstanceName:     deleted.InstanceName,
		InstanceURL:      deleted.InstanceURL,
		DownloadID:       deleted.DownloadID,
		DownloadTitle:    deleted.Title,
		Reason:           deleted.Reason.String(),
		RemoveFromClient: deleted.RemoveFromClient,
		DryRun:           deleted.DryRun,
	})
}

func (s *Service) PublishSearchNotTriggered(ctx context.Context, search Search) {
	log.Info().
		Str("downloadId", search.DownloadID).
		Str("title", search.Title).
		Str("instance", search.InstanceName).
		Msg("events: search not triggered for recurring item")

	s.metrics.RecordSearch(search.InstanceName, "not_triggered")
	s.persist(ctx, &models.Event{
		EventType:   models.EventTypeSearchNotTriggered,
		Severity:    models.EventSeverityWarning,
		DownloadID:  search.DownloadID,
		InstanceURL: search.InstanceURL,
		Title:       search.Title,
		Message:     "replacement search skipped for recurring item",
	}, search)
	s.notify(notifications.Event{
		Type:          notifications.EventSearchNotTriggered,
		InstanceName:  search.InstanceName,
		InstanceURL:   search.InstanceURL,
		DownloadID:    search.DownloadID,
		DownloadTitle: search.Title,
	})
}

func (s *Service) PublishSearchTriggered(ctx context.Context, search Search) {
	log.Info().
		Str("downloadId", search.DownloadID).
		Str("title", search.Title).
		Str("instance", search.InstanceName).
		Bool("dryRun", search.DryRun).
		Msg("events: replacement search triggered")

	s.metrics.RecordSearch(search.InstanceName, "triggered")
	s.persist(ctx, &models.Event{
		EventType:   models.EventTypeSearchTriggered,
		Severity:    models.EventSeverityInfo,
		DownloadID:  search.DownloadID,
		InstanceURL: search.InstanceURL,
		Title:       search.Title,
		Message:     "replacement search triggered",
	}, search)
	s.notify(notifications.Event{
		Type:          notifications.EventSearchTriggered,
		InstanceName:  search.InstanceName,
		InstanceURL:   search.InstanceURL,
		DownloadID:    search.DownloadID,
		DownloadTitle: search.Title,
		DryRun:        search.DryRun,
	})
}

func (s *Service) persist(ctx context.Context, event *models.Event, payload any) {
	if s.store == nil {
		return
	}

	if data, err := json.Marshal(payload); err == nil {
		event.Data = data
	}

	// a cancelled pass still records what it already did
	if err := s.store.Create(context.WithoutCancel(ctx), event); err != nil {
		log.Error().Err(err).Str("event", event.EventType).Str("downloadId", event.DownloadID).Msg("events: failed to persist event")
	}
}

func (s *Service) notify(event notifications.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(event)
}

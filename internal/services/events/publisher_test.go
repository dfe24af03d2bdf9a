// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/strikarr/internal/metrics/collector"
	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/services/notifications"
	"github.com/autobrr/strikarr/internal/testdb"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (f *fakeNotifier) Notify(event notifications.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func TestServicePersistsNotifiesAndCounts(t *testing.T) {
	t.Parallel()

	db := testdb.Open(t, "events")
	store := models.NewEventStore(db)
	reg := prometheus.NewRegistry()
	metrics := collector.NewQueueCleanerCollector(reg, nil)
	notifier := &fakeNotifier{}

	svc := NewService(store, metrics, notifier)
	ctx := context.Background()

	svc.PublishStrike(ctx, Strike{DownloadID: "ABC", Title: "Show", Type: models.StrikeTypeStalled, Count: 1, MaxStrikes: 3})
	svc.PublishRecurringItem(ctx, Strike{DownloadID: "ABC", Title: "Show", Type: models.StrikeTypeStalled, Count: 4, MaxStrikes: 3})
	svc.PublishQueueItemDeleted(ctx, QueueItemDeleted{
		DownloadID:       "ABC",
		Title:            "Show",
		InstanceName:     "sonarr",
		InstanceURL:      "http://sonarr:8989",
		Reason:           models.DeleteReasonStalled,
		RemoveFromClient: true,
	})
	svc.PublishSearchNotTriggered(ctx, Search{DownloadID: "ABC", Title: "Show", InstanceName: "sonarr"})
	svc.PublishSearchTriggered(ctx, Search{DownloadID: "DEF", Title: "Other", InstanceName: "sonarr"})

	stored, err := store.List(ctx, "abc", 10)
	require.NoError(t, err)
	require.Len(t, stored, 4)

	var types []string
	for _, e := range stored {
		types = append(types, e.EventType)
	}
	assert.ElementsMatch(t, []string{
		models.EventTypeStrike,
		models.EventTypeRecurringItem,
		models.EventTypeQueueItemDeleted,
		models.EventTypeSearchNotTriggered,
	}, types)

	for _, e := range stored {
		if e.EventType != models.EventTypeQueueItemDeleted {
			continue
		}
		var payload QueueItemDeleted
		require.NoError(t, json.Unmarshal(e.Data, &payload))
		assert.True(t, payload.RemoveFromClient)
		assert.Equal(t, models.DeleteReasonStalled, payload.Reason)
		assert.Equal(t, "http://sonarr:8989", e.InstanceURL)
	}

	require.Len(t, notifier.events, 5)
	assert.Equal(t, notifications.EventStrike, notifier.events[0].Type)
	assert.Equal(t, notifications.EventSearchTriggered, notifier.events[4].Type)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.StrikesTotal.WithLabelValues("stalled")), 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RecurringTotal), 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RemovalsTotal.WithLabelValues("sonarr", "stalled")), 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SearchesTotal.WithLabelValues("sonarr", "triggered")), 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SearchesTotal.WithLabelValues("sonarr", "not_triggered")), 0.0001)
}

func TestServiceWithoutCollaborators(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil, nil)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		svc.PublishStrike(ctx, Strike{DownloadID: "x"})
		svc.PublishQueueItemDeleted(ctx, QueueItemDeleted{DownloadID: "x"})
		svc.PublishSearchTriggered(ctx, Search{DownloadID: "x"})
	})
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	db := testdb.Open(t, "events")
	store := models.NewEventStore(db)
	require.NoError(t, db.Close())

	svc := NewService(store, nil, nil)
	assert.NotPanics(t, func() {
		svc.PublishStrike(context.Background(), Strike{DownloadID: "x", Type: models.StrikeTypeStalled})
	})
}

func TestRecorderForwards(t *testing.T) {
	t.Parallel()

	inner := NewRecorder(nil)
	outer := NewRecorder(inner)
	ctx := context.Background()

	outer.PublishStrike(ctx, Strike{DownloadID: "a"})
	outer.PublishRecurringItem(ctx, Strike{DownloadID: "a"})
	outer.PublishQueueItemDeleted(ctx, QueueItemDeleted{DownloadID: "a"})
	outer.PublishSearchNotTriggered(ctx, Search{DownloadID: "a"})
	outer.PublishSearchTriggered(ctx, Search{DownloadID: "b"})

	want := Counts{Strikes: 1, Recurring: 1, Deleted: 1, SearchNotTriggered: 1, SearchTriggered: 1}
	assert.Equal(t, want, outer.Counts())
	assert.Equal(t, want, inner.Counts())
}

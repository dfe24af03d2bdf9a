// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	target  string
	title   string
	message string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingSender) send(_ context.Context, target Target, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{target: target.Name, title: title, message: message})
	return nil
}

func (r *recordingSender) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

func TestFormatEventStrike(t *testing.T) {
	t.Parallel()

	title, message := formatEvent(Event{
		Type:          EventStrike,
		InstanceName:  "sonarr",
		DownloadID:    "0123456789abcdef",
		DownloadTitle: "Show.S01E01",
		StrikeType:    "stalled",
		Strikes:       2,
		MaxStrikes:    3,
	})

	assert.Equal(t, "Strike recorded", title)
	assert.Contains(t, message, "Instance: sonarr")
	assert.Contains(t, message, "Download: Show.S01E01 [01234567]")
	assert.Contains(t, message, "Strike: stalled")
	assert.Contains(t, message, "Count: 2/3")
}

func TestFormatEventQueueItemDeleted(t *testing.T) {
	t.Parallel()

	title, message := formatEvent(Event{
		Type:             EventQueueItemDeleted,
		DownloadTitle:    "Movie.2024",
		Reason:           "slow_speed",
		RemoveFromClient: true,
		DryRun:           true,
	})

	assert.Equal(t, "Queue item deleted (dry run)", title)
	assert.Contains(t, message, "Reason: slow_speed")
	assert.Contains(t, message, "Removed from client: yes")
	assert.NotContains(t, message, "Instance:")
}

func TestFormatEventPassFailed(t *testing.T) {
	t.Parallel()

	title, message := formatEvent(Event{Type: EventPassFailed, InstanceName: "radarr"})
	assert.Equal(t, "Cleaning pass failed", title)
	assert.Contains(t, message, "Error: Unknown error")
}

func TestFormatEventUnknownType(t *testing.T) {
	t.Parallel()

	title, message := formatEvent(Event{Type: "nope"})
	assert.Empty(t, title)
	assert.Empty(t, message)
}

func TestDispatchHonoursTargetFilters(t *testing.T) {
	t.Parallel()

	recorder := &recordingSender{}
	svc := NewService(func() []Target {
		return []Target{
			{Name: "all", URL: "generic://example", Enabled: true},
			{Name: "deletions", URL: "generic://example", Enabled: true, Events: []string{string(EventQueueItemDeleted)}},
			{Name: "disabled", URL: "generic://example", Enabled: false},
		}
	}, zerolog.Nop())
	require.NotNil(t, svc)
	svc.send = recorder.send

	svc.dispatch(context.Background(), Event{Type: EventStrike, DownloadTitle: "x", StrikeType: "stalled", Strikes: 1, MaxStrikes: 3})
	svc.dispatch(context.Background(), Event{Type: EventQueueItemDeleted, DownloadTitle: "x", Reason: "stalled"})

	sent := recorder.messages()
	require.Len(t, sent, 3)
	assert.Equal(t, "all", sent[0].target)
	assert.Equal(t, "Strike recorded", sent[0].title)
	assert.Equal(t, "all", sent[1].target)
	assert.Equal(t, "deletions", sent[2].target)
}

func TestNotifyDeliversThroughWorkers(t *testing.T) {
	t.Parallel()

	recorder := &recordingSender{}
	svc := NewService(func() []Target {
		return []Target{{Name: "all", URL: "generic://example", Enabled: true}}
	}, zerolog.Nop())
	svc.send = recorder.send

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	svc.Notify(Event{Type: EventSearchTriggered, DownloadTitle: "x"})

	require.Eventually(t, func() bool {
		return len(recorder.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNilServiceIsSafe(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, zerolog.Nop())
	require.Nil(t, svc)

	svc.Start(context.Background())
	svc.Notify(Event{Type: EventStrike})
}

func TestNormalizeEventTypes(t *testing.T) {
	t.Parallel()

	out, err := NormalizeEventTypes([]string{" search_triggered ", "strike", "strike", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"strike", "search_triggered"}, out)

	_, err = NormalizeEventTypes([]string{"torrent_completed"})
	require.Error(t, err)

	out, err = NormalizeEventTypes(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestTruncateMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncate("  abc ", 10))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Empty(t, truncate("   ", 3))
}

func TestEventTypeTitles(t *testing.T) {
	t.Parallel()

	for _, eventType := range KnownEventTypes() {
		assert.True(t, eventType.Valid(), eventType)
		assert.NotEmpty(t, eventType.Title(), eventType)
	}
	assert.False(t, EventType("torrent_added").Valid())
}

func TestFormatEventSearchNotTriggered(t *testing.T) {
	t.Parallel()

	title, message := formatEvent(Event{Type: EventSearchNotTriggered, DownloadTitle: "Show.S02", DownloadID: "short"})
	assert.Equal(t, "Search not triggered", title)
	assert.Equal(t, "Download: Show.S02\nSearch skipped for recurring item", message)
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hunter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/strikarr/internal/domain"
	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/services/arr"
	"github.com/autobrr/strikarr/internal/services/events"
)

type fakeSearcher struct {
	mu    sync.Mutex
	calls []Request
	err   error
}

func (f *fakeSearcher) SearchItems(_ context.Context, instance models.ArrInstance, items []arr.SearchItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Request{Instance: instance, Items: items})
	return f.err
}

func (f *fakeSearcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordedWait struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *recordedWait) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	w.mu.Unlock()
	return ctx.Err()
}

var radarr = models.ArrInstance{Name: "radarr", Type: models.ArrInstanceTypeRadarr, URL: "http://radarr:7878"}

func settings(general domain.GeneralSettings) SettingsFunc {
	return func() domain.Config { return domain.Config{General: general} }
}

func TestSearchDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		delay uint16
		want  time.Duration
	}{
		{name: "unset", delay: 0, want: DefaultSearchDelay},
		{name: "below minimum", delay: 30, want: DefaultSearchDelay},
		{name: "at minimum", delay: 60, want: 60 * time.Second},
		{name: "custom", delay: 300, want: 300 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SearchDelay(domain.GeneralSettings{SearchDelay: tt.delay}), tt.name)
	}
}

func TestHuntDownloads(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	waits := &recordedWait{}
	recorder := events.NewRecorder(nil)

	h := New(searcher, settings(domain.GeneralSettings{SearchEnabled: true, SearchDelay: 90}), recorder).
		WithWait(waits.wait).
		WithSearchInterval(0)

	req := Request{Instance: radarr, DownloadID: "abc", Title: "Movie", Items: []arr.SearchItem{{ID: 1}}}
	require.NoError(t, h.HuntDownloads(context.Background(), req))

	assert.Equal(t, 1, searcher.count())
	assert.Equal(t, []time.Duration{90 * time.Second}, waits.delays)
	require.Len(t, recorder.SearchTriggered, 1)
	assert.Equal(t, "abc", recorder.SearchTriggered[0].DownloadID)
	assert.False(t, recorder.SearchTriggered[0].DryRun)
}

func TestHuntDownloadsSearchDisabled(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	recorder := events.NewRecorder(nil)
	h := New(searcher, settings(domain.GeneralSettings{}), recorder).WithWait(func(context.Context, time.Duration) error {
		t.Fatal("should not wait")
		return nil
	})

	require.NoError(t, h.HuntDownloads(context.Background(), Request{Instance: radarr}))
	assert.Zero(t, searcher.count())
	assert.Empty(t, recorder.SearchTriggered)
}

func TestHuntDownloadsDryRun(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	recorder := events.NewRecorder(nil)
	h := New(searcher, settings(domain.GeneralSettings{SearchEnabled: true, DryRun: true}), recorder).
		WithWait((&recordedWait{}).wait)

	require.NoError(t, h.HuntDownloads(context.Background(), Request{Instance: radarr, DownloadID: "abc"}))
	assert.Zero(t, searcher.count())
	require.Len(t, recorder.SearchTriggered, 1)
	assert.True(t, recorder.SearchTriggered[0].DryRun)
}

func TestHuntDownloadsCancelled(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	recorder := events.NewRecorder(nil)
	h := New(searcher, settings(domain.GeneralSettings{SearchEnabled: true}), recorder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.HuntDownloads(ctx, Request{Instance: radarr, DownloadID: "abc"}) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("hunt did not return after cancel")
	}
	assert.Zero(t, searcher.count())
	assert.Empty(t, recorder.SearchTriggered)
}

func TestHuntDownloadsSearchError(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{err: errors.New("503")}
	recorder := events.NewRecorder(nil)
	h := New(searcher, settings(domain.GeneralSettings{SearchEnabled: true}), recorder).
		WithWait((&recordedWait{}).wait)

	require.Error(t, h.HuntDownloads(context.Background(), Request{Instance: radarr}))
	assert.Empty(t, recorder.SearchTriggered)
}

func TestHuntDownloadsRateLimitedPerInstance(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	h := New(searcher, settings(domain.GeneralSettings{SearchEnabled: true}), nil).
		WithWait((&recordedWait{}).wait).
		WithSearchInterval(time.Hour)

	require.NoError(t, h.HuntDownloads(context.Background(), Request{Instance: radarr}))

	other := radarr
	other.URL = "http://radarr-4k:7878"
	require.NoError(t, h.HuntDownloads(context.Background(), Request{Instance: other}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.HuntDownloads(ctx, Request{Instance: radarr})
	require.Error(t, err)
	assert.Equal(t, 2, searcher.count())
}

func TestWorkersProcessQueue(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	h := New(searcher, settings(domain.GeneralSettings{SearchEnabled: true}), nil).
		WithWait((&recordedWait{}).wait).
		WithSearchInterval(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)
	h.Start(ctx)

	for i := range 5 {
		assert.True(t, h.Enqueue(Request{Instance: radarr, Items: []arr.SearchItem{{ID: i + 1}}}))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, h.Shutdown(shutdownCtx))

	assert.Equal(t, 5, searcher.count())
	assert.False(t, h.Enqueue(Request{Instance: radarr}))
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	h := New(&fakeSearcher{}, settings(domain.GeneralSettings{}), nil)
	for range defaultQueueSize {
		require.True(t, h.Enqueue(Request{Instance: radarr}))
	}
	assert.False(t, h.Enqueue(Request{Instance: radarr}))
}

func TestHuntDownloadsLogsSearchOnce(t *testing.T) {
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.InfoLevel)
	t.Cleanup(func() { log.Logger = previous })

	searcher := &fakeSearcher{}
	h := New(searcher, settings(domain.GeneralSettings{SearchEnabled: true}), events.NewService(nil, nil, nil)).
		WithWait(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }).
		WithSearchInterval(0)

	req := Request{Instance: radarr, DownloadID: "abc", Title: "Movie", Items: []arr.SearchItem{{ID: 1}}}
	require.NoError(t, h.HuntDownloads(context.Background(), req))
	require.Equal(t, 1, searcher.count())

	assert.Equal(t, 1, strings.Count(buf.String(), "replacement search triggered"), buf.String())
}

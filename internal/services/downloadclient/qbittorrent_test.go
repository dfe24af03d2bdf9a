// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloadclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/strikarr/internal/domain"
	"github.com/autobrr/strikarr/internal/models"
)

type fakeQbit struct {
	logins     atomic.Int32
	loginErr   error
	version    string
	torrents   []qbt.Torrent
	torrentErr error
	trackers   []qbt.TorrentTracker
	files      qbt.TorrentFiles
	props      qbt.TorrentProperties
	propsCalls atomic.Int32
}

func (f *fakeQbit) LoginCtx(context.Context) error {
	f.logins.Add(1)
	return f.loginErr
}

func (f *fakeQbit) GetWebAPIVersionCtx(context.Context) (string, error) {
	return f.version, nil
}

func (f *fakeQbit) GetTorrentsCtx(_ context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error) {
	if f.torrentErr != nil {
		return nil, f.torrentErr
	}
	var out []qbt.Torrent
	for _, torrent := range f.torrents {
		for _, hash := range o.Hashes {
			if torrent.Hash == hash {
				out = append(out, torrent)
			}
		}
	}
	return out, nil
}

func (f *fakeQbit) GetTorrentTrackersCtx(context.Context, string) ([]qbt.TorrentTracker, error) {
	return f.trackers, nil
}

func (f *fakeQbit) GetFilesInformationCtx(context.Context, string) (*qbt.TorrentFiles, error) {
	return &f.files, nil
}

func (f *fakeQbit) GetTorrentPropertiesCtx(context.Context, string) (qbt.TorrentProperties, error) {
	f.propsCalls.Add(1)
	return f.props, nil
}

func TestQBittorrentTorrent(t *testing.T) {
	t.Parallel()

	api := &fakeQbit{
		version: "2.11.4",
		torrents: []qbt.Torrent{{
			Hash:       "abcdef",
			Name:       "Show.S02",
			Size:       4000,
			Progress:   0.25,
			Downloaded: 1000,
			DlSpeed:    0,
			ETA:        8640000,
			State:      qbt.TorrentStateStalledDl,
			Category:   "tv-sonarr",
			Tags:       "a, b",
			Private:    true,
		}},
		trackers: []qbt.TorrentTracker{
			{Url: "** [DHT] **"},
			{Url: "https://tracker.example.org/announce"},
		},
		files: qbt.TorrentFiles{{Priority: 0}, {Priority: 1}},
	}

	q := newQBittorrent("qbit", api)
	status, err := q.Torrent(context.Background(), "ABCDEF")
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.True(t, status.IsPrivate)
	assert.InDelta(t, 25, status.CompletionPercentage, 0.001)
	assert.Equal(t, StateStalled, status.State)
	assert.Zero(t, status.ETA)
	assert.Equal(t, []string{"a", "b"}, status.Tags)
	assert.Equal(t, []string{"tracker.example.org"}, status.Trackers)
	assert.False(t, status.AllFilesSkipped)
	assert.Zero(t, api.propsCalls.Load())
}

func TestQBittorrentOldWebAPIUsesProperties(t *testing.T) {
	t.Parallel()

	api := &fakeQbit{
		version:  "2.8.3",
		torrents: []qbt.Torrent{{Hash: "abcdef", State: qbt.TorrentStateDownloading}},
		props:    qbt.TorrentProperties{IsPrivate: true},
		files:    qbt.TorrentFiles{{Priority: 0}, {Priority: 0}},
	}

	q := newQBittorrent("qbit", api)
	status, err := q.Torrent(context.Background(), "abcdef")
	require.NoError(t, err)
	assert.True(t, status.IsPrivate)
	assert.True(t, status.AllFilesSkipped)
	assert.Equal(t, int32(1), api.propsCalls.Load())
}

func TestQBittorrentNotFound(t *testing.T) {
	t.Parallel()

	q := newQBittorrent("qbit", &fakeQbit{version: "2.11.4"})
	status, err := q.Torrent(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestQBittorrentLoginIsShared(t *testing.T) {
	t.Parallel()

	api := &fakeQbit{version: "2.11.4"}
	q := newQBittorrent("qbit", api)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Torrent(context.Background(), "abc")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := q.Torrent(context.Background(), "abc")
	require.NoError(t, err)
	assert.LessOrEqual(t, api.logins.Load(), int32(8))
	assert.GreaterOrEqual(t, api.logins.Load(), int32(1))
}

func TestQBittorrentRelogsAfterFailure(t *testing.T) {
	t.Parallel()

	api := &fakeQbit{version: "2.11.4", torrentErr: errors.New("403 forbidden")}
	q := newQBittorrent("qbit", api)

	_, err := q.Torrent(context.Background(), "abc")
	require.Error(t, err)

	api.torrentErr = nil
	_, err = q.Torrent(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.logins.Load())
}

func TestQBitState(t *testing.T) {
	t.Parallel()

	tests := map[qbt.TorrentState]State{
		qbt.TorrentStateDownloading:  StateDownloading,
		qbt.TorrentStateForcedDl:     StateDownloading,
		qbt.TorrentStateStalledDl:    StateStalled,
		qbt.TorrentStateMetaDl:       StateMetadata,
		qbt.TorrentStatePausedDl:     StatePaused,
		qbt.TorrentStateStoppedDl:    StatePaused,
		qbt.TorrentStateQueuedDl:     StateQueued,
		qbt.TorrentStateCheckingDl:   StateChecking,
		qbt.TorrentStateUploading:    StateCompleted,
		qbt.TorrentStateStalledUp:    StateCompleted,
		qbt.TorrentStateError:        StateError,
		qbt.TorrentStateMissingFiles: StateError,
	}

	for in, want := range tests {
		assert.Equal(t, want, qbitState(in), string(in))
	}
}

func TestNewServiceRejectsUTorrent(t *testing.T) {
	t.Parallel()

	_, err := NewService(models.DownloadClient{Name: "ut", Type: models.DownloadClientTypeUTorrent, Host: "http://ut"}, nil, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedClient)

	_, err = NewService(models.DownloadClient{Name: "x", Type: "rtorrent", Host: "http://x"}, nil, 0)
	assert.ErrorIs(t, err, ErrUnsupportedClient)
}

func TestNewServiceBuildsBackends(t *testing.T) {
	t.Parallel()

	for _, typ := range []models.DownloadClientType{
		models.DownloadClientTypeQBittorrent,
		models.DownloadClientTypeTransmission,
		models.DownloadClientTypeDeluge,
	} {
		svc, err := NewService(models.DownloadClient{Name: string(typ), Type: typ, Host: "http://localhost:1"}, nil, 0)
		require.NoError(t, err, typ)
		assert.Equal(t, typ, svc.Type())
		assert.Equal(t, string(typ), svc.Name())
	}
}

type staticBackend struct {
	status *TorrentStatus
	err    error
}

func (b staticBackend) Torrent(context.Context, string) (*TorrentStatus, error) {
	return b.status, b.err
}

func TestServiceWrapsBackendErrors(t *testing.T) {
	t.Parallel()

	cfg := domain.Config{}
	checker := NewChecker(failingStriker{}, func() domain.Config { return cfg })
	svc := NewServiceWithBackend(models.DownloadClient{Name: "qbit"}, staticBackend{err: errors.New("connection refused")}, checker)

	_, err := svc.ShouldRemoveFromArrQueue(context.Background(), "abc", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qbit")
	assert.Contains(t, err.Error(), "connection refused")

	svc = NewServiceWithBackend(models.DownloadClient{Name: "qbit"}, staticBackend{}, checker)
	result, err := svc.ShouldRemoveFromArrQueue(context.Background(), "abc", nil)
	require.NoError(t, err)
	assert.False(t, result.Found)
}

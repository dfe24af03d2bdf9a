// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloadclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/services/rules"
	"github.com/autobrr/strikarr/pkg/hashutil"
)

// torrents/info carries the private flag from this WebAPI version on; older
// versions need a properties call per torrent.
var minPrivateFieldVersion = semver.MustParse("2.11.1")

// qbitAPI is the part of *qbt.Client the backend uses.
type qbitAPI interface {
	LoginCtx(ctx context.Context) error
	GetWebAPIVersionCtx(ctx context.Context) (string, error)
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	GetTorrentTrackersCtx(ctx context.Context, hash string) ([]qbt.TorrentTracker, error)
	GetFilesInformationCtx(ctx context.Context, hash string) (*qbt.TorrentFiles, error)
	GetTorrentPropertiesCtx(ctx context.Context, hash string) (qbt.TorrentProperties, error)
}

type QBittorrent struct {
	name string
	api  qbitAPI

	login singleflight.Group

	mu              sync.RWMutex
	loggedIn        bool
	hasPrivateField bool
}

func NewQBittorrent(client models.DownloadClient, timeout time.Duration) (*QBittorrent, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	api := qbt.NewClient(qbt.Config{
		Host:          client.URL(),
		Username:      client.Username,
		Password:      client.Password,
		TLSSkipVerify: client.TLSSkipVerify,
		Timeout:       int(timeout.Seconds()),
	})

	return newQBittorrent(client.Name, api), nil
}

func newQBittorrent(name string, api qbitAPI) *QBittorrent {
	return &QBittorrent{name: name, api: api}
}

// ensureLogin logs in once. Concurrent callers share a single attempt.
func (q *QBittorrent) ensureLogin(ctx context.Context) error {
	q.mu.RLock()
	ok := q.loggedIn
	q.mu.RUnlock()
	if ok {
		return nil
	}

	_, err, _ := q.login.Do("login", func() (any, error) {
		err := retry.Do(
			func() error { return q.api.LoginCtx(ctx) },
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				log.Debug().Err(err).Str("client", q.name).Uint("attempt", n+1).Msg("qbittorrent: login failed, retrying")
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("qbittorrent login: %w", err)
		}

		hasPrivate := false
		if raw, verErr := q.api.GetWebAPIVersionCtx(ctx); verErr == nil {
			if v, parseErr := semver.NewVersion(raw); parseErr == nil {
				hasPrivate = !v.LessThan(minPrivateFieldVersion)
			}
		}

		q.mu.Lock()
		q.loggedIn = true
		q.hasPrivateField = hasPrivate
		q.mu.Unlock()
		return nil, nil
	})
	return err
}

func (q *QBittorrent) resetLogin() {
	q.mu.Lock()
	q.loggedIn = false
	q.mu.Unlock()
}

func (q *QBittorrent) Torrent(ctx context.Context, hash string) (*TorrentStatus, error) {
	if err := q.ensureLogin(ctx); err != nil {
		return nil, err
	}

	torrents, err := q.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hashutil.Normalize(hash)}})
	if err != nil {
		q.resetLogin()
		return nil, err
	}
	if len(torrents) == 0 {
		return nil, nil
	}
	torrent := torrents[0]

	q.mu.RLock()
	hasPrivate := q.hasPrivateField
	q.mu.RUnlock()

	isPrivate := torrent.Private
	if !hasPrivate {
		props, err := q.api.GetTorrentPropertiesCtx(ctx, torrent.Hash)
		if err != nil {
			return nil, fmt.Errorf("torrent properties: %w", err)
		}
		isPrivate = props.IsPrivate
	}

	trackers, err := q.api.GetTorrentTrackersCtx(ctx, torrent.Hash)
	if err != nil {
		return nil, fmt.Errorf("torrent trackers: %w", err)
	}
	announces := make([]string, 0, len(trackers))
	for _, tracker := range trackers {
		// DHT, PeX and LSD show up as pseudo trackers
		if strings.HasPrefix(tracker.Url, "** [") {
			continue
		}
		announces = append(announces, tracker.Url)
	}

	allSkipped := false
	if state := qbitState(torrent.State); state != StateMetadata && state != StateCompleted {
		files, err := q.api.GetFilesInformationCtx(ctx, torrent.Hash)
		if err != nil {
			return nil, fmt.Errorf("torrent files: %w", err)
		}
		allSkipped = allFilesSkipped(files)
	}

	return &TorrentStatus{
		Torrent: rules.Torrent{
			Hash:                 torrent.Hash,
			Name:                 torrent.Name,
			IsPrivate:            isPrivate,
			Size:                 torrent.Size,
			CompletionPercentage: torrent.Progress * 100,
			Trackers:             trackerHosts(announces),
			DownloadedBytes:      torrent.Downloaded,
		},
		Category:        torrent.Category,
		Tags:            splitTags(torrent.Tags),
		State:           qbitState(torrent.State),
		DownloadSpeed:   torrent.DlSpeed,
		ETA:             qbitETA(torrent.ETA),
		AllFilesSkipped: allSkipped,
	}, nil
}

// qBittorrent reports 8640000 (100 days) when it has no estimate.
const qbitInfiniteETA = 8640000

func qbitETA(eta int64) int64 {
	if eta >= qbitInfiniteETA {
		return 0
	}
	return eta
}

func qbitState(state qbt.TorrentState) State {
	switch state {
	case qbt.TorrentStateDownloading, qbt.TorrentStateForcedDl:
		return StateDownloading
	case qbt.TorrentStateStalledDl:
		return StateStalled
	case qbt.TorrentStateMetaDl:
		return StateMetadata
	case qbt.TorrentStatePausedDl, qbt.TorrentStateStoppedDl:
		return StatePaused
	case qbt.TorrentStateQueuedDl, qbt.TorrentStateAllocating:
		return StateQueued
	case qbt.TorrentStateCheckingDl, qbt.TorrentStateCheckingUp, qbt.TorrentStateCheckingResumeData, qbt.TorrentStateMoving:
		return StateChecking
	case qbt.TorrentStateUploading, qbt.TorrentStateStalledUp, qbt.TorrentStatePausedUp, qbt.TorrentStateStoppedUp,
		qbt.TorrentStateQueuedUp, qbt.TorrentStateForcedUp:
		return StateCompleted
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return StateError
	default:
		return StateUnknown
	}
}

func allFilesSkipped(files *qbt.TorrentFiles) bool {
	if files == nil || len(*files) == 0 {
		return false
	}
	for _, file := range *files {
		if file.Priority != 0 {
			return false
		}
	}
	return true
}

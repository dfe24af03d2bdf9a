// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloadclient asks torrent clients about queued downloads and
// decides, through the strike ledger, whether a download should leave the
// *arr queue.
package downloadclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/sharedhttp"

	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/services/rules"
)

var ErrUnsupportedClient = errors.New("download client type is not supported")

// State is the client-neutral download state.
type State string

const (
	StateDownloading State = "downloading"
	StateStalled     State = "stalled"
	StateMetadata    State = "metadata"
	StatePaused      State = "paused"
	StateQueued      State = "queued"
	StateChecking    State = "checking"
	StateCompleted   State = "completed"
	StateError       State = "error"
	StateUnknown     State = "unknown"
)

// TorrentStatus is what a backend reports for one torrent.
type TorrentStatus struct {
	rules.Torrent

	Category string
	Tags     []string
	State    State
	// DownloadSpeed is bytes per second.
	DownloadSpeed int64
	// ETA is seconds; <= 0 when the client has no estimate.
	ETA int64
	// AllFilesSkipped is true when every file is set to "do not download".
	AllFilesSkipped bool
}

// DownloadCheckResult is the client-side verdict for one queue item.
type DownloadCheckResult struct {
	Found bool
	// Ignored is set when the torrent matched the ignore list. No other
	// check should act on the item.
	Ignored      bool
	ShouldRemove bool
	DeleteReason models.DeleteReason
	IsPrivate    bool
	// DeleteFromClient is whether a removal may also delete the torrent and
	// its data from the client.
	DeleteFromClient bool
}

// Service is one configured download client.
type Service interface {
	Name() string
	Type() models.DownloadClientType
	ShouldRemoveFromArrQueue(ctx context.Context, hash string, ignored []string) (DownloadCheckResult, error)
}

// Backend fetches a torrent by hash. A torrent the client does not know is
// reported as (nil, nil).
type Backend interface {
	Torrent(ctx context.Context, hash string) (*TorrentStatus, error)
}

type service struct {
	client  models.DownloadClient
	backend Backend
	checker *Checker
}

// NewService builds the backend matching client.Type.
func NewService(client models.DownloadClient, checker *Checker, timeout time.Duration) (Service, error) {
	var (
		backend Backend
		err     error
	)

	switch client.Type {
	case models.DownloadClientTypeQBittorrent:
		backend, err = NewQBittorrent(client, timeout)
	case models.DownloadClientTypeTransmission:
		backend = NewTransmission(client, httpClient(client, timeout))
	case models.DownloadClientTypeDeluge:
		backend, err = NewDeluge(client, httpClient(client, timeout))
	case models.DownloadClientTypeUTorrent:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedClient, client.Type)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedClient, client.Type)
	}
	if err != nil {
		return nil, err
	}

	return NewServiceWithBackend(client, backend, checker), nil
}

// NewServiceWithBackend wires an existing backend to the shared checker.
func NewServiceWithBackend(client models.DownloadClient, backend Backend, checker *Checker) Service {
	return &service{client: client, backend: backend, checker: checker}
}

func (s *service) Name() string {
	if s.client.Name != "" {
		return s.client.Name
	}
	return s.client.Host
}

func (s *service) Type() models.DownloadClientType {
	return s.client.Type
}

func (s *service) ShouldRemoveFromArrQueue(ctx context.Context, hash string, ignored []string) (DownloadCheckResult, error) {
	status, err := s.backend.Torrent(ctx, hash)
	if err != nil {
		return DownloadCheckResult{}, fmt.Errorf("%s: get torrent %s: %w", s.Name(), hash, err)
	}

	return s.checker.Check(ctx, status, ignored)
}

func httpClient(client models.DownloadClient, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := sharedhttp.Transport
	if client.TLSSkipVerify {
		transport = sharedhttp.TransportTLSInsecure
	}

	return &http.Client{Timeout: timeout, Transport: transport}
}

// trackerHosts reduces announce urls to lowercase hostnames, keeping order and
// dropping duplicates.
func trackerHosts(announces []string) []string {
	hosts := make([]string, 0, len(announces))
	seen := make(map[string]struct{}, len(announces))
	for _, announce := range announces {
		announce = strings.TrimSpace(announce)
		if announce == "" {
			continue
		}
		host := announce
		if u, err := url.Parse(announce); err == nil && u.Hostname() != "" {
			host = u.Hostname()
		}
		host = strings.ToLower(host)
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	return hosts
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

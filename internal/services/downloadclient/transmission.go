// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloadclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/services/rules"
	"github.com/autobrr/strikarr/pkg/hashutil"
	"github.com/autobrr/strikarr/pkg/httphelpers"
)

const transmissionSessionHeader = "X-Transmission-Session-Id"

// Transmission torrent status codes.
const (
	trStopped = iota
	trCheckWait
	trCheck
	trDownloadWait
	trDownload
	trSeedWait
	trSeed
)

var transmissionFields = []string{
	"hashString", "name", "isPrivate", "totalSize", "percentDone", "status",
	"rateDownload", "eta", "downloadedEver", "trackers", "labels", "fileStats",
	"metadataPercentComplete", "peersSendingToUs", "error",
}

type Transmission struct {
	endpoint string
	username string
	password string
	client   *http.Client

	mu        sync.RWMutex
	sessionID string
}

func NewTransmission(client models.DownloadClient, httpClient *http.Client) *Transmission {
	endpoint := strings.TrimRight(strings.TrimSpace(client.Host), "/") + "/transmission/rpc"
	if strings.Trim(client.URLBase, "/ ") != "" {
		endpoint = client.URL() + "/rpc"
	}

	return &Transmission{
		endpoint: endpoint,
		username: client.Username,
		password: client.Password,
		client:   httpClient,
	}
}

type transmissionRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type transmissionResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

type transmissionTorrent struct {
	HashString              string                  `json:"hashString"`
	Name                    string                  `json:"name"`
	IsPrivate               bool                    `json:"isPrivate"`
	TotalSize               int64                   `json:"totalSize"`
	PercentDone             float64                 `json:"percentDone"`
	Status                  int                     `json:"status"`
	RateDownload            int64                   `json:"rateDownload"`
	ETA                     int64                   `json:"eta"`
	DownloadedEver          int64                   `json:"downloadedEver"`
	MetadataPercentComplete float64                 `json:"metadataPercentComplete"`
	PeersSendingToUs        int                     `json:"peersSendingToUs"`
	Error                   int                     `json:"error"`
	Labels                  []string                `json:"labels"`
	Trackers                []transmissionTracker   `json:"trackers"`
	FileStats               []transmissionFileStats `json:"fileStats"`
}

type transmissionTracker struct {
	Announce string `json:"announce"`
}

type transmissionFileStats struct {
	Wanted bool `json:"wanted"`
}

func (t *Transmission) Torrent(ctx context.Context, hash string) (*TorrentStatus, error) {
	var out struct {
		Torrents []transmissionTorrent `json:"torrents"`
	}

	args := map[string]any{
		"ids":    []string{hashutil.Normalize(hash)},
		"fields": transmissionFields,
	}
	if err := t.call(ctx, "torrent-get", args, &out); err != nil {
		return nil, err
	}
	if len(out.Torrents) == 0 {
		return nil, nil
	}
	torrent := out.Torrents[0]

	announces := make([]string, 0, len(torrent.Trackers))
	for _, tracker := range torrent.Trackers {
		announces = append(announces, tracker.Announce)
	}

	allSkipped := len(torrent.FileStats) > 0
	for _, stat := range torrent.FileStats {
		if stat.Wanted {
			allSkipped = false
			break
		}
	}

	return &TorrentStatus{
		Torrent: rules.Torrent{
			Hash:                 torrent.HashString,
			Name:                 torrent.Name,
			IsPrivate:            torrent.IsPrivate,
			Size:                 torrent.TotalSize,
			CompletionPercentage: torrent.PercentDone * 100,
			Trackers:             trackerHosts(announces),
			DownloadedBytes:      torrent.DownloadedEver,
		},
		Tags:            torrent.Labels,
		State:           transmissionState(torrent),
		DownloadSpeed:   torrent.RateDownload,
		ETA:             torrent.ETA,
		AllFilesSkipped: allSkipped,
	}, nil
}

func transmissionState(t transmissionTorrent) State {
	if t.Error != 0 {
		return StateError
	}

	switch t.Status {
	case trStopped:
		if t.PercentDone >= 1 {
			return StateCompleted
		}
		return StatePaused
	case trCheckWait, trCheck:
		return StateChecking
	case trDownloadWait:
		return StateQueued
	case trDownload:
		if t.MetadataPercentComplete < 1 {
			return StateMetadata
		}
		if t.RateDownload == 0 && t.PeersSendingToUs == 0 {
			return StateStalled
		}
		return StateDownloading
	case trSeedWait, trSeed:
		return StateCompleted
	default:
		return StateUnknown
	}
}

// call performs one RPC. A 409 carries a fresh session id; the request is
// retried once with it.
func (t *Transmission) call(ctx context.Context, method string, args any, out any) error {
	payload, err := json.Marshal(transmissionRequest{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("transmission: encode %s: %w", method, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("transmission: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if t.username != "" || t.password != "" {
			req.SetBasicAuth(t.username, t.password)
		}

		t.mu.RLock()
		if t.sessionID != "" {
			req.Header.Set(transmissionSessionHeader, t.sessionID)
		}
		t.mu.RUnlock()

		resp, err := t.client.Do(req)
		if err != nil {
			return fmt.Errorf("transmission: %s: %w", method, err)
		}

		if resp.StatusCode == http.StatusConflict {
			t.mu.Lock()
			t.sessionID = resp.Header.Get(transmissionSessionHeader)
			t.mu.Unlock()
			httphelpers.DrainAndClose(resp)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			httphelpers.DrainAndClose(resp)
			return fmt.Errorf("transmission: %s: unexpected status %d", method, resp.StatusCode)
		}

		var rpcResp transmissionResponse
		err = json.NewDecoder(resp.Body).Decode(&rpcResp)
		httphelpers.DrainAndClose(resp)
		if err != nil {
			return fmt.Errorf("transmission: decode %s: %w", method, err)
		}
		if rpcResp.Result != "success" {
			return fmt.Errorf("transmission: %s: %s", method, rpcResp.Result)
		}
		if out == nil || len(rpcResp.Arguments) == 0 {
			return nil
		}
		if err := json.Unmarshal(rpcResp.Arguments, out); err != nil {
			return fmt.Errorf("transmission: decode %s arguments: %w", method, err)
		}
		return nil
	}

	return fmt.Errorf("transmission: %s: session id rejected", method)
}

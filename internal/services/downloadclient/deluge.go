// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloadclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/services/rules"
	"github.com/autobrr/strikarr/pkg/hashutil"
	"github.com/autobrr/strikarr/pkg/httphelpers"
)

// Deluge web api error code for a missing or expired session.
const delugeErrNotAuthenticated = 1

var errDelugeLoginRejected = errors.New("deluge: password rejected")

var delugeFields = []string{
	"hash", "name", "private", "total_size", "progress", "state",
	"download_payload_rate", "eta", "total_done", "trackers", "label",
	"file_priorities",
}

type Deluge struct {
	endpoint string
	password string
	client   *http.Client

	requestID atomic.Int64

	mu       sync.Mutex
	loggedIn bool
}

func NewDeluge(client models.DownloadClient, httpClient *http.Client) (*Deluge, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("deluge: cookie jar: %w", err)
	}

	withJar := *httpClient
	withJar.Jar = jar

	return &Deluge{
		endpoint: client.URL() + "/json",
		password: client.Password,
		client:   &withJar,
	}, nil
}

type delugeRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int64  `json:"id"`
}

type delugeError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *delugeError) Error() string {
	return fmt.Sprintf("deluge: %s (code %d)", e.Message, e.Code)
}

type delugeResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *delugeError    `json:"error"`
}

type delugeTorrent struct {
	Hash                string          `json:"hash"`
	Name                string          `json:"name"`
	Private             bool            `json:"private"`
	TotalSize           int64           `json:"total_size"`
	Progress            float64         `json:"progress"`
	State               string          `json:"state"`
	DownloadPayloadRate int64           `json:"download_payload_rate"`
	ETA                 float64         `json:"eta"`
	TotalDone           int64           `json:"total_done"`
	Label               string          `json:"label"`
	FilePriorities      []int           `json:"file_priorities"`
	Trackers            []delugeTracker `json:"trackers"`
}

type delugeTracker struct {
	URL string `json:"url"`
}

func (d *Deluge) Torrent(ctx context.Context, hash string) (*TorrentStatus, error) {
	var torrent delugeTorrent
	if err := d.callAuthenticated(ctx, "core.get_torrent_status", []any{hashutil.Normalize(hash), delugeFields}, &torrent); err != nil {
		return nil, err
	}
	// unknown hashes come back as an empty object
	if torrent.Hash == "" {
		return nil, nil
	}

	announces := make([]string, 0, len(torrent.Trackers))
	for _, tracker := range torrent.Trackers {
		announces = append(announces, tracker.URL)
	}

	allSkipped := len(torrent.FilePriorities) > 0
	for _, priority := range torrent.FilePriorities {
		if priority != 0 {
			allSkipped = false
			break
		}
	}

	var tags []string
	if torrent.Label != "" {
		tags = []string{torrent.Label}
	}

	return &TorrentStatus{
		Torrent: rules.Torrent{
			Hash:                 torrent.Hash,
			Name:                 torrent.Name,
			IsPrivate:            torrent.Private,
			Size:                 torrent.TotalSize,
			CompletionPercentage: torrent.Progress,
			Trackers:             trackerHosts(announces),
			DownloadedBytes:      torrent.TotalDone,
		},
		Category:        torrent.Label,
		Tags:            tags,
		State:           delugeState(torrent),
		DownloadSpeed:   torrent.DownloadPayloadRate,
		ETA:             int64(torrent.ETA),
		AllFilesSkipped: allSkipped,
	}, nil
}

func delugeState(t delugeTorrent) State {
	switch strings.ToLower(t.State) {
	case "downloading":
		if t.TotalSize == 0 {
			return StateMetadata
		}
		if t.DownloadPayloadRate == 0 {
			return StateStalled
		}
		return StateDownloading
	case "seeding":
		return StateCompleted
	case "paused":
		if t.Progress >= 100 {
			return StateCompleted
		}
		return StatePaused
	case "queued":
		return StateQueued
	case "checking", "allocating", "moving":
		return StateChecking
	case "error":
		return StateError
	default:
		return StateUnknown
	}
}

func (d *Deluge) ensureLogin(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loggedIn {
		return nil
	}

	err := retry.Do(
		func() error {
			var ok bool
			if err := d.call(ctx, "auth.login", []any{d.password}, &ok); err != nil {
				return err
			}
			if !ok {
				return retry.Unrecoverable(errDelugeLoginRejected)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}

	var connected bool
	if err := d.call(ctx, "web.connected", []any{}, &connected); err != nil {
		return err
	}
	if !connected {
		if err := d.connectFirstHost(ctx); err != nil {
			return err
		}
	}

	d.loggedIn = true
	return nil
}

// connectFirstHost attaches the web ui to its first configured daemon.
func (d *Deluge) connectFirstHost(ctx context.Context) error {
	var hosts [][]any
	if err := d.call(ctx, "web.get_hosts", []any{}, &hosts); err != nil {
		return err
	}
	if len(hosts) == 0 || len(hosts[0]) == 0 {
		return errors.New("deluge: web ui has no daemon configured")
	}

	hostID, ok := hosts[0][0].(string)
	if !ok {
		return errors.New("deluge: unexpected host list")
	}

	log.Debug().Str("host", hostID).Msg("deluge: connecting web ui to daemon")
	return d.call(ctx, "web.connect", []any{hostID}, nil)
}

func (d *Deluge) callAuthenticated(ctx context.Context, method string, params []any, out any) error {
	if err := d.ensureLogin(ctx); err != nil {
		return err
	}

	err := d.call(ctx, method, params, out)
	var rpcErr *delugeError
	if errors.As(err, &rpcErr) && rpcErr.Code == delugeErrNotAuthenticated {
		d.mu.Lock()
		d.loggedIn = false
		d.mu.Unlock()

		if err := d.ensureLogin(ctx); err != nil {
			return err
		}
		return d.call(ctx, method, params, out)
	}
	return err
}

func (d *Deluge) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(delugeRequest{Method: method, Params: params, ID: d.requestID.Add(1)})
	if err != nil {
		return fmt.Errorf("deluge: encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("deluge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deluge: %s: %w", method, err)
	}
	defer httphelpers.DrainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deluge: %s: unexpected status %d", method, resp.StatusCode)
	}

	var rpcResp delugeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("deluge: decode %s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil || len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("deluge: decode %s result: %w", method, err)
	}
	return nil
}

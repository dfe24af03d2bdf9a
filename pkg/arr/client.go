// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arr is a minimal client for the Sonarr, Radarr, Lidarr, Readarr and
// Whisparr queue and command APIs.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/sharedhttp"

	"github.com/autobrr/strikarr/pkg/httphelpers"
)

// ErrNotFound matches any *HTTPError with a 404 status.
var ErrNotFound = errors.New("arr: not found")

// HTTPError is returned for every non-2xx response.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("arr: %s %s returned status %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Config holds the options for constructing a Client.
type Config struct {
	Host string
	// APIVersion is "v3" for Sonarr, Radarr and Whisparr, "v1" for Lidarr and Readarr.
	APIVersion string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
}

type Client struct {
	host       string
	apiVersion string
	apiKey     string
	httpClient *http.Client
	userAgent  string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout, Transport: sharedhttp.Transport}
	}

	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = "v3"
	}

	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "strikarr"
	}

	return &Client{
		host:       strings.TrimRight(cfg.Host, "/"),
		apiVersion: version,
		apiKey:     cfg.APIKey,
		httpClient: client,
		userAgent:  ua,
	}
}

// StatusMessage is one tracked-download message group on a queue record.
type StatusMessage struct {
	Title    string   `json:"title"`
	Messages []string `json:"messages"`
}

// QueueRecord is one entry of an instance's download queue. The media ids
// that apply depend on the application.
type QueueRecord struct {
	ID                    int             `json:"id"`
	Title                 string          `json:"title"`
	Status                string          `json:"status"`
	TrackedDownloadStatus string          `json:"trackedDownloadStatus"`
	TrackedDownloadState  string          `json:"trackedDownloadState"`
	StatusMessages        []StatusMessage `json:"statusMessages"`
	ErrorMessage          string          `json:"errorMessage"`
	DownloadID            string          `json:"downloadId"`
	Protocol              string          `json:"protocol"`
	DownloadClient        string          `json:"downloadClient"`
	Indexer               string          `json:"indexer"`
	Size                  float64         `json:"size"`
	SizeLeft              float64         `json:"sizeleft"`

	SeriesID     int `json:"seriesId,omitempty"`
	EpisodeID    int `json:"episodeId,omitempty"`
	SeasonNumber int `json:"seasonNumber,omitempty"`
	MovieID      int `json:"movieId,omitempty"`
	ArtistID     int `json:"artistId,omitempty"`
	AlbumID      int `json:"albumId,omitempty"`
	AuthorID     int `json:"authorId,omitempty"`
	BookID       int `json:"bookId,omitempty"`
}

// QueuePage is one page of GET /queue.
type QueuePage struct {
	Page         int           `json:"page"`
	PageSize     int           `json:"pageSize"`
	TotalRecords int           `json:"totalRecords"`
	Records      []QueueRecord `json:"records"`
}

// DeleteOptions are passed as query parameters to DELETE /queue/{id}.
type DeleteOptions struct {
	RemoveFromClient bool
	Blocklist        bool
	SkipRedownload   bool
}

// Command is a POST /command body. Only the ids the command uses are sent.
type Command struct {
	Name         string `json:"name"`
	EpisodeIDs   []int  `json:"episodeIds,omitempty"`
	SeriesID     int    `json:"seriesId,omitempty"`
	SeasonNumber int    `json:"seasonNumber,omitempty"`
	MovieIDs     []int  `json:"movieIds,omitempty"`
	AlbumIDs     []int  `json:"albumIds,omitempty"`
	BookIDs      []int  `json:"bookIds,omitempty"`
}

type CommandResponse struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type SystemStatus struct {
	AppName      string `json:"appName"`
	InstanceName string `json:"instanceName"`
	Version      string `json:"version"`
}

// GetQueue fetches one page of the download queue. Pages start at 1.
func (c *Client) GetQueue(ctx context.Context, page, pageSize int) (*QueuePage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(pageSize))

	var out QueuePage
	if err := c.do(ctx, http.MethodGet, query, nil, &out, "queue"); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteQueueItem removes a queue record, optionally removing the download
// from its client as well.
func (c *Client) DeleteQueueItem(ctx context.Context, id int, opts DeleteOptions) error {
	query := url.Values{}
	query.Set("removeFromClient", strconv.FormatBool(opts.RemoveFromClient))
	query.Set("blocklist", strconv.FormatBool(opts.Blocklist))
	query.Set("skipRedownload", strconv.FormatBool(opts.SkipRedownload))

	return c.do(ctx, http.MethodDelete, query, nil, nil, "queue", strconv.Itoa(id))
}

func (c *Client) Command(ctx context.Context, cmd Command) (*CommandResponse, error) {
	if strings.TrimSpace(cmd.Name) == "" {
		return nil, errors.New("arr: command name is required")
	}

	var out CommandResponse
	if err := c.do(ctx, http.MethodPost, nil, cmd, &out, "command"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var out SystemStatus
	if err := c.do(ctx, http.MethodGet, nil, nil, &out, "system", "status"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method string, query url.Values, body any, out any, path ...string) error {
	endpoint, err := url.JoinPath(c.host, append([]string{"api", c.apiVersion}, path...)...)
	if err != nil {
		return fmt.Errorf("arr: build endpoint: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("arr: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("arr: build request: %w", err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("arr: %s %s: %w", method, endpoint, err)
	}
	defer httphelpers.DrainAndClose(resp)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        endpoint,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("arr: decode response: %w", err)
	}
	return nil
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetQueue(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/queue", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("pageSize"))

		_ = json.NewEncoder(w).Encode(QueuePage{
			Page:         2,
			PageSize:     10,
			TotalRecords: 11,
			Records: []QueueRecord{{
				ID:         11,
				Title:      "Show.S01E01",
				DownloadID: "ABCDEF",
				Protocol:   "torrent",
				SeriesID:   3,
				EpisodeID:  4,
			}},
		})
	}))
	defer server.Close()

	client := NewClient(Config{Host: server.URL + "/", APIKey: "secret"})
	page, err := client.GetQueue(context.Background(), 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 11, page.TotalRecords)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "ABCDEF", page.Records[0].DownloadID)
	assert.Equal(t, 4, page.Records[0].EpisodeID)
}

func TestAPIVersionInPath(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lidarr/api/v1/system/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"appName":"Lidarr","version":"2.0.0"}`))
	}))
	defer server.Close()

	client := NewClient(Config{Host: server.URL + "/lidarr", APIVersion: "v1"})
	status, err := client.SystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Lidarr", status.AppName)
}

func TestDeleteQueueItem(t *testing.T) {
	t.Parallel()

	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v3/queue/42", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("removeFromClient"))
		assert.Equal(t, "true", r.URL.Query().Get("blocklist"))
		assert.Equal(t, "false", r.URL.Query().Get("skipRedownload"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{Host: server.URL})
	err := client.DeleteQueueItem(context.Background(), 42, DeleteOptions{RemoveFromClient: true, Blocklist: true})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestHTTPErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		isNotFound bool
	}{
		{name: "not found", status: http.StatusNotFound, isNotFound: true},
		{name: "server error", status: http.StatusInternalServerError, isNotFound: false},
		{name: "unauthorized", status: http.StatusUnauthorized, isNotFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			err := NewClient(Config{Host: server.URL}).DeleteQueueItem(context.Background(), 1, DeleteOptions{})
			require.Error(t, err)

			var httpErr *HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, "nope", httpErr.Body)
			assert.Equal(t, tt.isNotFound, errors.Is(err, ErrNotFound))
		})
	}
}

func TestCommand(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/command", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "MoviesSearch", body["name"])
		assert.Equal(t, []any{float64(7)}, body["movieIds"])
		assert.NotContains(t, body, "episodeIds")

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":99,"name":"MoviesSearch","status":"queued"}`))
	}))
	defer server.Close()

	resp, err := NewClient(Config{Host: server.URL}).Command(context.Background(), Command{Name: "MoviesSearch", MovieIDs: []int{7}})
	require.NoError(t, err)
	assert.Equal(t, 99, resp.ID)

	_, err = NewClient(Config{Host: server.URL}).Command(context.Background(), Command{})
	require.Error(t, err)
}

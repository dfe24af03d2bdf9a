// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/strikarr/internal/models"
)

func TestParseArrInstanceType(t *testing.T) {
	tests := []struct {
		input   string
		want    models.ArrInstanceType
		wantErr bool
	}{
		{input: "sonarr", want: models.ArrInstanceTypeSonarr},
		{input: " Radarr ", want: models.ArrInstanceTypeRadarr},
		{input: "LIDARR", want: models.ArrInstanceTypeLidarr},
		{input: "readarr", want: models.ArrInstanceTypeReadarr},
		{input: "whisparr", want: models.ArrInstanceTypeWhisparr},
		{input: "prowlarr", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := models.ParseArrInstanceType(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArrInstanceTypeAPIVersion(t *testing.T) {
	assert.Equal(t, "v3", models.ArrInstanceTypeSonarr.APIVersion())
	assert.Equal(t, "v3", models.ArrInstanceTypeRadarr.APIVersion())
	assert.Equal(t, "v3", models.ArrInstanceTypeWhisparr.APIVersion())
	assert.Equal(t, "v1", models.ArrInstanceTypeLidarr.APIVersion())
	assert.Equal(t, "v1", models.ArrInstanceTypeReadarr.APIVersion())
}

func TestArrInstanceValidate(t *testing.T) {
	t.Run("normalizes", func(t *testing.T) {
		instance := models.ArrInstance{Name: "tv", Type: "Sonarr", URL: " http://sonarr:8989/ ", APIKey: "key"}
		require.NoError(t, instance.Validate())
		assert.Equal(t, models.ArrInstanceTypeSonarr, instance.Type)
		assert.Equal(t, "http://sonarr:8989", instance.URL)
	})

	t.Run("missing url", func(t *testing.T) {
		instance := models.ArrInstance{Name: "tv", Type: "sonarr", APIKey: "key"}
		assert.ErrorIs(t, instance.Validate(), models.ErrURLRequired)
	})

	t.Run("missing api key", func(t *testing.T) {
		instance := models.ArrInstance{Type: "radarr", URL: "http://radarr:7878"}
		err := instance.Validate()
		require.ErrorIs(t, err, models.ErrAPIKeyRequired)
		assert.Contains(t, err.Error(), "http://radarr:7878")
	})
}

func TestArrInstanceLabel(t *testing.T) {
	assert.Equal(t, "tv", models.ArrInstance{Name: " tv ", URL: "http://sonarr"}.Label())
	assert.Equal(t, "http://sonarr", models.ArrInstance{URL: "http://sonarr"}.Label())
}

func TestDownloadClientValidate(t *testing.T) {
	tests := []struct {
		name    string
		client  models.DownloadClient
		wantErr error
	}{
		{
			name:   "qbittorrent with credentials",
			client: models.DownloadClient{Type: "qBittorrent", Host: "http://qbit:8080", Username: "admin", Password: "pass"},
		},
		{
			name:   "deluge password only",
			client: models.DownloadClient{Type: "deluge", Host: "http://deluge:8112", Password: "deluge"},
		},
		{
			name:    "missing host",
			client:  models.DownloadClient{Type: "transmission"},
			wantErr: models.ErrURLRequired,
		},
		{
			name:    "qbittorrent username without password",
			client:  models.DownloadClient{Type: "qbittorrent", Host: "http://qbit:8080", Username: "admin"},
			wantErr: models.ErrPasswordRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.client.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	_, err := models.ParseDownloadClientType("rtorrent")
	assert.Error(t, err)
}

func TestDownloadClientURL(t *testing.T) {
	tests := []struct {
		host, base, want string
	}{
		{host: "http://qbit:8080/", want: "http://qbit:8080"},
		{host: "http://host", base: "/transmission/", want: "http://host/transmission"},
		{host: " http://host/ ", base: "deluge", want: "http://host/deluge"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, models.DownloadClient{Host: tt.host, URLBase: tt.base}.URL())
		})
	}
}

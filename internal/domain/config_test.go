// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/strikarr/internal/models"
)

func validConfig() Config {
	return Config{
		QueueCleaner: QueueCleanerConfig{
			Enabled: true,
			StallRules: []models.QueueRule{{
				Name:                    "stalled",
				Enabled:                 true,
				MaxStrikes:              3,
				MaxCompletionPercentage: 100,
			}},
			SlowRules: []models.QueueRule{{
				Name:                    "slow",
				Enabled:                 true,
				MaxStrikes:              3,
				MaxCompletionPercentage: 100,
				MinSpeed:                "500KB",
			}},
		},
		ArrInstances: []models.ArrInstance{{
			Name:    "sonarr",
			Type:    "Sonarr",
			URL:     "http://sonarr:8989/",
			APIKey:  "key",
			Enabled: true,
		}},
		DownloadClients: []models.DownloadClient{{
			Name:    "qbit",
			Type:    "qBittorrent",
			Host:    "http://qbit:8080",
			Enabled: true,
		}},
	}
}

func TestValidateNormalizes(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultQueueCleanerInterval, cfg.QueueCleaner.Interval)
	assert.Equal(t, DefaultInstanceConcurrency, cfg.QueueCleaner.InstanceConcurrency)
	assert.Equal(t, models.QueueRuleKindStall, cfg.QueueCleaner.StallRules[0].Kind)
	assert.Equal(t, models.QueueRuleKindSlow, cfg.QueueCleaner.SlowRules[0].Kind)
	assert.Equal(t, uint64(500_000), cfg.QueueCleaner.SlowRules[0].MinSpeedBytes)
	assert.Equal(t, 1, cfg.QueueCleaner.StallRules[0].ID)
	assert.Equal(t, models.ArrInstanceTypeSonarr, cfg.ArrInstances[0].Type)
	assert.Equal(t, "http://sonarr:8989", cfg.ArrInstances[0].URL)
	assert.Equal(t, models.DownloadClientTypeQBittorrent, cfg.DownloadClients[0].Type)
}

func TestSortedRulesWithoutValidate(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.QueueCleaner.SlowRules = append(cfg.QueueCleaner.SlowRules, models.QueueRule{
		Name:                    "big",
		Enabled:                 true,
		MaxStrikes:              3,
		MaxCompletionPercentage: 50,
		MinSpeed:                "1MB",
		IgnoreAboveSize:         "10GB",
	})

	stall := cfg.SortedStallRules()
	require.Len(t, stall, 1)
	assert.Equal(t, models.QueueRuleKindStall, stall[0].Kind)
	assert.Equal(t, models.PrivacyTypeBoth, stall[0].PrivacyType)

	slow := cfg.SortedSlowRules()
	require.Len(t, slow, 2)
	assert.Equal(t, "slow", slow[0].Name)
	assert.Equal(t, models.QueueRuleKindSlow, slow[0].Kind)
	assert.Equal(t, uint64(500_000), slow[0].MinSpeedBytes)
	assert.Equal(t, uint64(1_000_000), slow[1].MinSpeedBytes)
	assert.Equal(t, uint64(10_000_000_000), slow[1].IgnoreAboveSizeBytes)

	// the configured rules are left untouched
	assert.Empty(t, cfg.QueueCleaner.SlowRules[0].Kind)
	assert.Zero(t, cfg.QueueCleaner.SlowRules[0].MinSpeedBytes)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "max strikes below minimum",
			mutate:  func(c *Config) { c.QueueCleaner.StallRules[0].MaxStrikes = 2 },
			wantErr: "max strikes",
		},
		{
			name:    "max completion zero",
			mutate:  func(c *Config) { c.QueueCleaner.StallRules[0].MaxCompletionPercentage = 0 },
			wantErr: "completion",
		},
		{
			name: "min above max",
			mutate: func(c *Config) {
				c.QueueCleaner.StallRules[0].MinCompletionPercentage = 60
				c.QueueCleaner.StallRules[0].MaxCompletionPercentage = 50
			},
			wantErr: "completion",
		},
		{
			name: "slow rule without limits",
			mutate: func(c *Config) {
				c.QueueCleaner.SlowRules[0].MinSpeed = ""
			},
			wantErr: "minimum speed",
		},
		{
			name:    "unparseable min speed",
			mutate:  func(c *Config) { c.QueueCleaner.SlowRules[0].MinSpeed = "fast" },
			wantErr: "minSpeed",
		},
		{
			name:    "metadata strikes below minimum",
			mutate:  func(c *Config) { c.QueueCleaner.DownloadingMetadataMaxStrikes = 1 },
			wantErr: "downloadingMetadataMaxStrikes",
		},
		{
			name:    "interval too short",
			mutate:  func(c *Config) { c.QueueCleaner.Interval = 10 * time.Second },
			wantErr: "interval",
		},
		{
			name:    "unknown instance type",
			mutate:  func(c *Config) { c.ArrInstances[0].Type = "plex" },
			wantErr: "arr instance type",
		},
		{
			name: "duplicate instance url",
			mutate: func(c *Config) {
				c.ArrInstances = append(c.ArrInstances, c.ArrInstances[0])
			},
			wantErr: "duplicate url",
		},
		{
			name:    "notification without url",
			mutate:  func(c *Config) { c.Notifications = []NotificationTarget{{Name: "discord"}} },
			wantErr: "url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsIgnored(t *testing.T) {
	t.Parallel()

	settings := GeneralSettings{IgnoredDownloads: []string{" ABCDEF ", "tracker.example", ""}}

	assert.True(t, settings.IsIgnored("abcdef"))
	assert.True(t, settings.IsIgnored("nothing", "Tracker.Example"))
	assert.False(t, settings.IsIgnored("abc"))
	assert.False(t, settings.IsIgnored(""))
	assert.False(t, GeneralSettings{}.IsIgnored("abcdef"))
}

func TestMatchesIgnoredPattern(t *testing.T) {
	t.Parallel()

	cfg := FailedImportConfig{IgnoredPatterns: []string{"Not an upgrade"}}
	assert.True(t, cfg.MatchesIgnoredPattern([]string{"Episode file not an upgrade for existing file"}))
	assert.False(t, cfg.MatchesIgnoredPattern([]string{"Unable to parse"}))
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Notifications = []NotificationTarget{{Name: "n", URL: "generic://x", Events: []string{"strike"}}}
	cfg.General.IgnoredDownloads = []string{"a"}

	clone := cfg.Clone()
	clone.QueueCleaner.StallRules[0].MaxStrikes = 99
	clone.Notifications[0].Events[0] = "changed"
	clone.General.IgnoredDownloads[0] = "b"

	assert.Equal(t, 3, cfg.QueueCleaner.StallRules[0].MaxStrikes)
	assert.Equal(t, "strike", cfg.Notifications[0].Events[0])
	assert.Equal(t, "a", cfg.General.IgnoredDownloads[0])
}

func TestRedacted(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.DownloadClients[0].Password = "hunter2"
	cfg.Notifications = []NotificationTarget{{URL: "discord://token@id"}}

	redacted := cfg.Redacted()
	assert.Equal(t, RedactedStr, redacted.ArrInstances[0].APIKey)
	assert.Equal(t, RedactedStr, redacted.DownloadClients[0].Password)
	assert.Equal(t, "discord://"+RedactedStr, redacted.Notifications[0].URL)
	assert.Equal(t, "key", cfg.ArrInstances[0].APIKey)
}

func TestHTTPTimeoutDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30*time.Second, GeneralSettings{}.HTTPTimeoutDuration())
	assert.Equal(t, 5*time.Second, GeneralSettings{HTTPTimeout: 5}.HTTPTimeoutDuration())
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/autobrr/strikarr/internal/models"
)

// ErrInvalidConfig wraps every error returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	DefaultQueueCleanerInterval = 5 * time.Minute
	MinQueueCleanerInterval     = time.Minute
	DefaultInstanceConcurrency  = 2
	DefaultHTTPTimeout          = 30
	DefaultStrikeRetentionHours = 24 * 7
	DefaultEventRetentionDays   = 30
)

// Config represents the application configuration
type Config struct {
	Version               string
	LogLevel              string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath               string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize            int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups         int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir               string `toml:"dataDir" mapstructure:"dataDir"`
	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	General         GeneralSettings         `toml:"general" mapstructure:"general"`
	QueueCleaner    QueueCleanerConfig      `toml:"queueCleaner" mapstructure:"queueCleaner"`
	ArrInstances    []models.ArrInstance    `toml:"arrInstances" mapstructure:"arrInstances"`
	DownloadClients []models.DownloadClient `toml:"downloadClients" mapstructure:"downloadClients"`
	Notifications   []NotificationTarget    `toml:"notifications" mapstructure:"notifications"`
}

// GeneralSettings are read at use time by the cleaner and the hunter, so
// reloaded values apply to work that was queued before the reload.
type GeneralSettings struct {
	SearchEnabled bool `toml:"searchEnabled" mapstructure:"searchEnabled"`
	// SearchDelay is in seconds.
	SearchDelay          uint16   `toml:"searchDelay" mapstructure:"searchDelay"`
	IgnoredDownloads     []string `toml:"ignoredDownloads" mapstructure:"ignoredDownloads"`
	DryRun               bool     `toml:"dryRun" mapstructure:"dryRun"`
	HTTPTimeout          int      `toml:"httpTimeout" mapstructure:"httpTimeout"`
	StrikeRetentionHours int      `toml:"strikeRetentionHours" mapstructure:"strikeRetentionHours"`
	EventRetentionDays   int      `toml:"eventRetentionDays" mapstructure:"eventRetentionDays"`
}

// IsIgnored reports whether any of values matches an ignored download entry.
// Matching ignores case and surrounding space.
func (g GeneralSettings) IsIgnored(values ...string) bool {
	for _, ignored := range g.IgnoredDownloads {
		ignored = strings.TrimSpace(ignored)
		if ignored == "" {
			continue
		}
		for _, v := range values {
			if strings.EqualFold(strings.TrimSpace(v), ignored) {
				return true
			}
		}
	}
	return false
}

func (g GeneralSettings) HTTPTimeoutDuration() time.Duration {
	if g.HTTPTimeout <= 0 {
		return DefaultHTTPTimeout * time.Second
	}
	return time.Duration(g.HTTPTimeout) * time.Second
}

type QueueCleanerConfig struct {
	Enabled                       bool               `toml:"enabled" mapstructure:"enabled"`
	Interval                      time.Duration      `toml:"interval" mapstructure:"interval"`
	InstanceConcurrency           int                `toml:"instanceConcurrency" mapstructure:"instanceConcurrency"`
	DownloadingMetadataMaxStrikes int                `toml:"downloadingMetadataMaxStrikes" mapstructure:"downloadingMetadataMaxStrikes"`
	FailedImport                  FailedImportConfig `toml:"failedImport" mapstructure:"failedImport"`
	StallRules                    []models.QueueRule `toml:"stallRules" mapstructure:"stallRules"`
	SlowRules                     []models.QueueRule `toml:"slowRules" mapstructure:"slowRules"`
}

// FailedImportConfig drives the *arr-side verdict. A MaxStrikes of 0 disables it.
type FailedImportConfig struct {
	MaxStrikes      int      `toml:"maxStrikes" mapstructure:"maxStrikes"`
	IgnorePrivate   bool     `toml:"ignorePrivate" mapstructure:"ignorePrivate"`
	DeletePrivate   bool     `toml:"deletePrivate" mapstructure:"deletePrivate"`
	IgnoredPatterns []string `toml:"ignoredPatterns" mapstructure:"ignoredPatterns"`
}

// MatchesIgnoredPattern reports whether any message contains an ignored pattern.
func (f FailedImportConfig) MatchesIgnoredPattern(messages []string) bool {
	for _, pattern := range f.IgnoredPatterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		for _, msg := range messages {
			if strings.Contains(strings.ToLower(msg), pattern) {
				return true
			}
		}
	}
	return false
}

// NotificationTarget is a shoutrrr URL plus an optional event filter.
type NotificationTarget struct {
	Name    string   `json:"name" toml:"name" mapstructure:"name"`
	URL     string   `json:"-" toml:"url" mapstructure:"url"`
	Events  []string `json:"events" toml:"events" mapstructure:"events"`
	Enabled bool     `json:"enabled" toml:"enabled" mapstructure:"enabled"`
}

// Validate normalizes the configuration in place and reports every problem it
// finds. The returned error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error

	qc := &c.QueueCleaner
	if qc.Interval <= 0 {
		qc.Interval = DefaultQueueCleanerInterval
	}
	if qc.Interval < MinQueueCleanerInterval {
		errs = append(errs, fmt.Errorf("queueCleaner.interval must be at least %s", MinQueueCleanerInterval))
	}
	if qc.InstanceConcurrency <= 0 {
		qc.InstanceConcurrency = DefaultInstanceConcurrency
	}
	if err := validateOptionalStrikes("queueCleaner.downloadingMetadataMaxStrikes", qc.DownloadingMetadataMaxStrikes); err != nil {
		errs = append(errs, err)
	}
	if err := validateOptionalStrikes("queueCleaner.failedImport.maxStrikes", qc.FailedImport.MaxStrikes); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateRules(qc.StallRules, models.QueueRuleKindStall)...)
	errs = append(errs, validateRules(qc.SlowRules, models.QueueRuleKindSlow)...)

	seen := make(map[string]struct{}, len(c.ArrInstances))
	for i := range c.ArrInstances {
		if err := c.ArrInstances[i].Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		key := strings.ToLower(c.ArrInstances[i].URL)
		if _, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("arr instance %q: duplicate url %s", c.ArrInstances[i].Label(), c.ArrInstances[i].URL))
		}
		seen[key] = struct{}{}
	}

	for i := range c.DownloadClients {
		if err := c.DownloadClients[i].Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	for i, target := range c.Notifications {
		if strings.TrimSpace(target.URL) == "" {
			errs = append(errs, fmt.Errorf("notifications[%d] %q: url is required", i, target.Name))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func validateOptionalStrikes(field string, v int) error {
	if v == 0 || v >= models.MinQueueRuleStrikes {
		return nil
	}
	return fmt.Errorf("%s must be 0 (disabled) or at least %d", field, models.MinQueueRuleStrikes)
}

func validateRules(rules []models.QueueRule, kind models.QueueRuleKind) []error {
	var errs []error
	for i := range rules {
		rules[i].Kind = kind
		if rules[i].ID == 0 {
			rules[i].ID = i + 1
		}
		if err := rules[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s rule %d: %w", kind, i+1, err))
		}
	}
	return errs
}

// SortedStallRules returns the stall rules in evaluation order, tagged and
// normalized.
func (c *Config) SortedStallRules() []models.QueueRule {
	return evaluationRules(c.QueueCleaner.StallRules, models.QueueRuleKindStall)
}

// SortedSlowRules returns the slow rules in evaluation order, tagged and
// normalized.
func (c *Config) SortedSlowRules() []models.QueueRule {
	return evaluationRules(c.QueueCleaner.SlowRules, models.QueueRuleKindSlow)
}

// evaluationRules works on a sorted copy. A size that fails to parse leaves
// its byte limit at zero; Validate reports it.
func evaluationRules(rules []models.QueueRule, kind models.QueueRuleKind) []models.QueueRule {
	sorted := models.SortQueueRules(rules)
	for i := range sorted {
		sorted[i].Kind = kind
		_ = sorted[i].Normalize()
	}
	return sorted
}

func (c *Config) EnabledArrInstances() []models.ArrInstance {
	out := make([]models.ArrInstance, 0, len(c.ArrInstances))
	for _, instance := range c.ArrInstances {
		if instance.Enabled {
			out = append(out, instance)
		}
	}
	return out
}

func (c *Config) EnabledDownloadClients() []models.DownloadClient {
	out := make([]models.DownloadClient, 0, len(c.DownloadClients))
	for _, client := range c.DownloadClients {
		if client.Enabled {
			out = append(out, client)
		}
	}
	return out
}

// Clone returns a deep copy so callers can hold it across a reload.
func (c *Config) Clone() Config {
	out := *c
	out.General.IgnoredDownloads = slices.Clone(c.General.IgnoredDownloads)
	out.QueueCleaner.FailedImport.IgnoredPatterns = slices.Clone(c.QueueCleaner.FailedImport.IgnoredPatterns)
	out.QueueCleaner.StallRules = slices.Clone(c.QueueCleaner.StallRules)
	out.QueueCleaner.SlowRules = slices.Clone(c.QueueCleaner.SlowRules)
	out.ArrInstances = slices.Clone(c.ArrInstances)
	out.DownloadClients = slices.Clone(c.DownloadClients)
	out.Notifications = make([]NotificationTarget, len(c.Notifications))
	for i, target := range c.Notifications {
		target.Events = slices.Clone(target.Events)
		out.Notifications[i] = target
	}
	if c.Notifications == nil {
		out.Notifications = nil
	}
	return out
}

// Redacted returns a copy with credentials replaced, for logging.
func (c *Config) Redacted() Config {
	out := c.Clone()
	out.MetricsBasicAuthUsers = RedactString(out.MetricsBasicAuthUsers)
	for i := range out.ArrInstances {
		out.ArrInstances[i].APIKey = RedactString(out.ArrInstances[i].APIKey)
	}
	for i := range out.DownloadClients {
		out.DownloadClients[i].Password = RedactString(out.DownloadClients[i].Password)
	}
	for i := range out.Notifications {
		out.Notifications[i].URL = RedactURL(out.Notifications[i].URL)
	}
	return out
}

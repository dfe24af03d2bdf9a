// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
)

// MinQueueRuleStrikes is the lowest MaxStrikes a queue rule may carry.
const MinQueueRuleStrikes = 3

var (
	ErrInvalidMaxStrikes  = fmt.Errorf("max strikes must be at least %d", MinQueueRuleStrikes)
	ErrInvalidCompletion  = errors.New("completion percentage must satisfy 0 <= min < max <= 100")
	ErrSlowRuleNoLimit    = errors.New("slow rule needs a minimum speed or a maximum time")
	ErrInvalidPrivacyType = errors.New("privacy type must be one of public, private, both")
)

// QueueRuleKind tags the QueueRule variant.
type QueueRuleKind string

const (
	QueueRuleKindStall QueueRuleKind = "stall"
	QueueRuleKindSlow  QueueRuleKind = "slow"
)

type PrivacyType string

const (
	PrivacyTypePublic  PrivacyType = "public"
	PrivacyTypePrivate PrivacyType = "private"
	PrivacyTypeBoth    PrivacyType = "both"
)

// QueueRule is a closed variant over stall and slow rules. Fields below the
// slow-only marker are ignored for stall rules.
type QueueRule struct {
	ID                              int           `json:"id" toml:"id" mapstructure:"id"`
	Kind                            QueueRuleKind `json:"kind" toml:"-" mapstructure:"-"`
	Name                            string        `json:"name" toml:"name" mapstructure:"name"`
	Enabled                         bool          `json:"enabled" toml:"enabled" mapstructure:"enabled"`
	MaxStrikes                      int           `json:"maxStrikes" toml:"maxStrikes" mapstructure:"maxStrikes"`
	PrivacyType                     PrivacyType   `json:"privacyType" toml:"privacyType" mapstructure:"privacyType"`
	MinCompletionPercentage         float64       `json:"minCompletionPercentage" toml:"minCompletionPercentage" mapstructure:"minCompletionPercentage"`
	MaxCompletionPercentage         float64       `json:"maxCompletionPercentage" toml:"maxCompletionPercentage" mapstructure:"maxCompletionPercentage"`
	ResetStrikesOnProgress          bool          `json:"resetStrikesOnProgress" toml:"resetStrikesOnProgress" mapstructure:"resetStrikesOnProgress"`
	DeletePrivateTorrentsFromClient bool          `json:"deletePrivateTorrentsFromClient" toml:"deletePrivateTorrentsFromClient" mapstructure:"deletePrivateTorrentsFromClient"`

	// slow-only
	MinSpeed        string  `json:"minSpeed,omitempty" toml:"minSpeed" mapstructure:"minSpeed"`
	MaxTimeHours    float64 `json:"maxTimeHours,omitempty" toml:"maxTimeHours" mapstructure:"maxTimeHours"`
	MaxTime         int64   `json:"maxTime,omitempty" toml:"maxTime" mapstructure:"maxTime"`
	IgnoreAboveSize string  `json:"ignoreAboveSize,omitempty" toml:"ignoreAboveSize" mapstructure:"ignoreAboveSize"`

	MinSpeedBytes        uint64 `json:"-" toml:"-" mapstructure:"-"`
	IgnoreAboveSizeBytes uint64 `json:"-" toml:"-" mapstructure:"-"`
}

// Normalize parses the human byte-size strings and defaults the privacy type.
// It must run before the rule is evaluated.
func (r *QueueRule) Normalize() error {
	if r.PrivacyType == "" {
		r.PrivacyType = PrivacyTypeBoth
	}
	r.PrivacyType = PrivacyType(strings.ToLower(string(r.PrivacyType)))

	r.MinSpeedBytes = 0
	r.IgnoreAboveSizeBytes = 0
	if r.Kind != QueueRuleKindSlow {
		return nil
	}

	if s := strings.TrimSpace(r.MinSpeed); s != "" {
		v, err := humanize.ParseBytes(s)
		if err != nil {
			return fmt.Errorf("rule %q: invalid minSpeed %q: %w", r.Name, r.MinSpeed, err)
		}
		r.MinSpeedBytes = v
	}

	if s := strings.TrimSpace(r.IgnoreAboveSize); s != "" {
		v, err := humanize.ParseBytes(s)
		if err != nil {
			return fmt.Errorf("rule %q: invalid ignoreAboveSize %q: %w", r.Name, r.IgnoreAboveSize, err)
		}
		r.IgnoreAboveSizeBytes = v
	}

	return nil
}

// Validate normalizes the rule and checks its invariants.
func (r *QueueRule) Validate() error {
	if err := r.Normalize(); err != nil {
		return err
	}

	switch r.PrivacyType {
	case PrivacyTypePublic, PrivacyTypePrivate, PrivacyTypeBoth:
	default:
		return fmt.Errorf("rule %q: %w", r.Name, ErrInvalidPrivacyType)
	}

	if r.MaxStrikes < MinQueueRuleStrikes {
		return fmt.Errorf("rule %q: %w", r.Name, ErrInvalidMaxStrikes)
	}

	if r.MinCompletionPercentage < 0 || r.MaxCompletionPercentage <= 0 || r.MaxCompletionPercentage > 100 ||
		r.MinCompletionPercentage >= r.MaxCompletionPercentage {
		return fmt.Errorf("rule %q: %w", r.Name, ErrInvalidCompletion)
	}

	if r.Kind == QueueRuleKindSlow && r.MinSpeedBytes == 0 && r.EffectiveHours() <= 0 {
		return fmt.Errorf("rule %q: %w", r.Name, ErrSlowRuleNoLimit)
	}

	return nil
}

// MatchesPrivacy reports whether a torrent with the given privacy flag is in scope.
func (r *QueueRule) MatchesPrivacy(isPrivate bool) bool {
	switch r.PrivacyType {
	case PrivacyTypePublic:
		return !isPrivate
	case PrivacyTypePrivate:
		return isPrivate
	default:
		return true
	}
}

// MatchesCompletion applies the (min, max] band. A min of 0 includes 0%.
func (r *QueueRule) MatchesCompletion(pct float64) bool {
	if pct > r.MaxCompletionPercentage {
		return false
	}
	if r.MinCompletionPercentage == 0 {
		return pct >= 0
	}
	return pct > r.MinCompletionPercentage
}

// EffectiveHours returns MaxTimeHours when set, else MaxTime seconds in hours.
func (r *QueueRule) EffectiveHours() float64 {
	if r.MaxTimeHours > 0 {
		return r.MaxTimeHours
	}
	if r.MaxTime > 0 {
		return float64(r.MaxTime) / 3600
	}
	return 0
}

// SortQueueRules orders rules by descending (MaxCompletionPercentage,
// MinCompletionPercentage). Ties keep their configured order.
func SortQueueRules(rules []QueueRule) []QueueRule {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b QueueRule) int {
		if c := cmp.Compare(b.MaxCompletionPercentage, a.MaxCompletionPercentage); c != 0 {
			return c
		}
		return cmp.Compare(b.MinCompletionPercentage, a.MinCompletionPercentage)
	})
	return sorted
}

// DeleteReason is recorded on the *arr side and in queue-item-deleted events.
type DeleteReason string

const (
	DeleteReasonNone                DeleteReason = ""
	DeleteReasonStalled             DeleteReason = "stalled"
	DeleteReasonSlowSpeed           DeleteReason = "slow_speed"
	DeleteReasonSlowTime            DeleteReason = "slow_time"
	DeleteReasonFailedImport        DeleteReason = "failed_import"
	DeleteReasonAllFilesSkipped     DeleteReason = "all_files_skipped"
	DeleteReasonDownloadingMetadata DeleteReason = "downloading_metadata"
)

func (r DeleteReason) String() string {
	if r == DeleteReasonNone {
		return "none"
	}
	return string(r)
}

// StrikeType identifies the ledger bucket a strike is counted in.
type StrikeType string

const (
	StrikeTypeStalled             StrikeType = "stalled"
	StrikeTypeSlowSpeed           StrikeType = "slow_speed"
	StrikeTypeSlowTime            StrikeType = "slow_time"
	StrikeTypeFailedImport        StrikeType = "failed_import"
	StrikeTypeAllFilesSkipped     StrikeType = "all_files_skipped"
	StrikeTypeDownloadingMetadata StrikeType = "downloading_metadata"
)

// DeleteReason maps a strike bucket to the reason reported on removal.
func (t StrikeType) DeleteReason() DeleteReason {
	return DeleteReason(t)
}

// StrikeTypeFor is the inverse of StrikeType.DeleteReason.
func StrikeTypeFor(reason DeleteReason) StrikeType {
	return StrikeType(reason)
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rules matches torrent snapshots against stall and slow queue rules.
package rules

import (
	"github.com/autobrr/strikarr/internal/models"
)

// Torrent is a point-in-time view of a torrent as reported by a download client.
type Torrent struct {
	Hash                 string
	Name                 string
	IsPrivate            bool
	Size                 int64
	CompletionPercentage float64
	Trackers             []string
	DownloadedBytes      int64
}

// Result is the outcome of matching a torrent against a rule set.
type Result struct {
	Matched bool
	Rule    *models.QueueRule
	Reason  models.DeleteReason
}

// Evaluate returns the first enabled rule that matches the torrent. Rules are
// expected in models.SortQueueRules order.
func Evaluate(rules []models.QueueRule, torrent Torrent) Result {
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || !matchesScope(rule, torrent) {
			continue
		}

		switch rule.Kind {
		case models.QueueRuleKindStall:
			return Result{Matched: true, Rule: rule, Reason: models.DeleteReasonStalled}
		case models.QueueRuleKindSlow:
			if !matchesSlowSize(rule, torrent) {
				continue
			}
			return Result{Matched: true, Rule: rule, Reason: slowReason(rule)}
		}
	}

	return Result{Reason: models.DeleteReasonNone}
}

// EvaluateSlow narrows Evaluate to slow rules the live transfer actually breaks.
// speed is bytes per second. eta is seconds; eta <= 0 means the client could not
// estimate it, and an unknown eta never breaks a time limit.
func EvaluateSlow(rules []models.QueueRule, torrent Torrent, speed int64, eta int64) Result {
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || rule.Kind != models.QueueRuleKindSlow {
			continue
		}
		if !matchesScope(rule, torrent) || !matchesSlowSize(rule, torrent) {
			continue
		}

		if rule.MinSpeedBytes > 0 && speed >= 0 && uint64(speed) < rule.MinSpeedBytes {
			return Result{Matched: true, Rule: rule, Reason: models.DeleteReasonSlowSpeed}
		}

		if hours := rule.EffectiveHours(); hours > 0 && eta > 0 && float64(eta) > hours*3600 {
			return Result{Matched: true, Rule: rule, Reason: models.DeleteReasonSlowTime}
		}
	}

	return Result{Reason: models.DeleteReasonNone}
}

func matchesScope(rule *models.QueueRule, torrent Torrent) bool {
	return rule.MatchesPrivacy(torrent.IsPrivate) && rule.MatchesCompletion(torrent.CompletionPercentage)
}

// matchesSlowSize applies the size ceiling and the size proxy: a torrent smaller
// than what MinSpeed would move within the time limit is never slow.
func matchesSlowSize(rule *models.QueueRule, torrent Torrent) bool {
	if rule.IgnoreAboveSizeBytes > 0 && torrent.Size > 0 && uint64(torrent.Size) > rule.IgnoreAboveSizeBytes {
		return false
	}

	required := RequiredBytes(rule)
	return float64(torrent.Size) >= required
}

// RequiredBytes is MinSpeedBytes sustained over the rule's effective hours.
func RequiredBytes(rule *models.QueueRule) float64 {
	return float64(rule.MinSpeedBytes) * rule.EffectiveHours() * 3600
}

func slowReason(rule *models.QueueRule) models.DeleteReason {
	if rule.MinSpeedBytes == 0 && rule.EffectiveHours() > 0 {
		return models.DeleteReasonSlowTime
	}
	return models.DeleteReasonSlowSpeed
}

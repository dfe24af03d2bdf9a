// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloadclient

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/strikarr/internal/domain"
	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/services/rules"
)

// Striker is the strike ledger as seen by the checker.
type Striker interface {
	StrikeAndCheckLimit(ctx context.Context, hash, title string, maxStrikes int, strikeType models.StrikeType, lastDownloadedBytes *int64) (bool, error)
	ResetStrike(ctx context.Context, hash, title string, strikeType models.StrikeType) error
	HasProgressed(ctx context.Context, hash string, strikeType models.StrikeType, downloadedBytes int64) (bool, error)
}

// SettingsFunc returns the current configuration snapshot.
type SettingsFunc func() domain.Config

// Checker turns a torrent status into a removal verdict. It is shared by every
// client type.
type Checker struct {
	striker  Striker
	settings SettingsFunc
}

func NewChecker(striker Striker, settings SettingsFunc) *Checker {
	return &Checker{striker: striker, settings: settings}
}

// Check evaluates, in order: ignore list, all files skipped, stuck metadata,
// stall rules and slow rules. The first check that applies decides.
func (c *Checker) Check(ctx context.Context, status *TorrentStatus, ignored []string) (DownloadCheckResult, error) {
	if status == nil {
		return DownloadCheckResult{Found: false}, nil
	}

	result := DownloadCheckResult{
		Found:     true,
		IsPrivate: status.IsPrivate,
	}

	if isIgnored(status, ignored) {
		log.Debug().Str("hash", status.Hash).Str("name", status.Name).Msg("downloadclient: download is ignored")
		result.Ignored = true
		return result, nil
	}

	cfg := c.settings()

	if status.AllFilesSkipped {
		remove, err := c.striker.StrikeAndCheckLimit(ctx, status.Hash, status.Name, 1, models.StrikeTypeAllFilesSkipped, nil)
		if err != nil {
			return result, err
		}
		return c.verdict(result, remove, models.DeleteReasonAllFilesSkipped, true), nil
	}

	switch status.State {
	case StateMetadata:
		remove, err := c.striker.StrikeAndCheckLimit(ctx, status.Hash, status.Name, cfg.QueueCleaner.DownloadingMetadataMaxStrikes, models.StrikeTypeDownloadingMetadata, nil)
		if err != nil {
			return result, err
		}
		return c.verdict(result, remove, models.DeleteReasonDownloadingMetadata, true), nil
	case StateStalled:
		return c.checkStalled(ctx, cfg, status, result)
	case StateDownloading:
		return c.checkSlow(ctx, cfg, status, result)
	default:
		return result, nil
	}
}

func (c *Checker) checkStalled(ctx context.Context, cfg domain.Config, status *TorrentStatus, result DownloadCheckResult) (DownloadCheckResult, error) {
	match := rules.Evaluate(cfg.SortedStallRules(), status.Torrent)
	if !match.Matched {
		return result, nil
	}
	rule := match.Rule

	if rule.ResetStrikesOnProgress {
		progressed, err := c.striker.HasProgressed(ctx, status.Hash, models.StrikeTypeStalled, status.DownloadedBytes)
		if err != nil {
			return result, err
		}
		if progressed {
			return result, c.striker.ResetStrike(ctx, status.Hash, status.Name, models.StrikeTypeStalled)
		}
	}

	downloaded := status.DownloadedBytes
	remove, err := c.striker.StrikeAndCheckLimit(ctx, status.Hash, status.Name, rule.MaxStrikes, models.StrikeTypeStalled, &downloaded)
	if err != nil {
		return result, err
	}

	log.Debug().
		Str("hash", status.Hash).
		Str("rule", rule.Name).
		Str("downloaded", humanize.IBytes(uint64(max(downloaded, 0)))).
		Msg("downloadclient: stalled download struck")

	return c.verdict(result, remove, models.DeleteReasonStalled, rule.DeletePrivateTorrentsFromClient), nil
}

// checkSlow strikes a download the slow rules flag. A download that is back
// within limits under a rule with ResetStrikesOnProgress has its slow strikes
// dropped.
func (c *Checker) checkSlow(ctx context.Context, cfg domain.Config, status *TorrentStatus, result DownloadCheckResult) (DownloadCheckResult, error) {
	slowRules := cfg.SortedSlowRules()

	match := rules.EvaluateSlow(slowRules, status.Torrent, status.DownloadSpeed, status.ETA)
	if !match.Matched {
		scope := rules.Evaluate(slowRules, status.Torrent)
		if scope.Matched && scope.Rule.ResetStrikesOnProgress {
			for _, strikeType := range []models.StrikeType{models.StrikeTypeSlowSpeed, models.StrikeTypeSlowTime} {
				if err := c.striker.ResetStrike(ctx, status.Hash, status.Name, strikeType); err != nil {
					return result, err
				}
			}
		}
		return result, nil
	}

	rule := match.Rule
	strikeType := models.StrikeTypeFor(match.Reason)
	downloaded := status.DownloadedBytes

	remove, err := c.striker.StrikeAndCheckLimit(ctx, status.Hash, status.Name, rule.MaxStrikes, strikeType, &downloaded)
	if err != nil {
		return result, err
	}

	log.Debug().
		Str("hash", status.Hash).
		Str("rule", rule.Name).
		Str("speed", humanize.Bytes(uint64(max(status.DownloadSpeed, 0)))+"/s").
		Int64("eta", status.ETA).
		Msg("downloadclient: slow download struck")

	return c.verdict(result, remove, match.Reason, rule.DeletePrivateTorrentsFromClient), nil
}

func (c *Checker) verdict(result DownloadCheckResult, remove bool, reason models.DeleteReason, deletePrivate bool) DownloadCheckResult {
	if !remove {
		return result
	}

	result.ShouldRemove = true
	result.DeleteReason = reason
	result.DeleteFromClient = !result.IsPrivate || deletePrivate
	return result
}

func isIgnored(status *TorrentStatus, ignored []string) bool {
	for _, entry := range ignored {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}

		if strings.EqualFold(status.Hash, entry) ||
			strings.EqualFold(status.Name, entry) ||
			strings.EqualFold(status.Category, entry) {
			return true
		}
		for _, tag := range status.Tags {
			if strings.EqualFold(strings.TrimSpace(tag), entry) {
				return true
			}
		}
		for _, tracker := range status.Trackers {
			host := strings.ToLower(tracker)
			if host == entry || strings.HasSuffix(host, "."+entry) {
				return true
			}
		}
	}
	return false
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package queuecleaner runs the periodic pass over every enabled *arr queue:
// it asks the download clients and the *arr instance whether each queued
// download should go, and hands removals to the remover.
package queuecleaner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/strikarr/internal/domain"
	"github.com/autobrr/strikarr/internal/metrics/collector"
	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/registry"
	"github.com/autobrr/strikarr/internal/services/arr"
	"github.com/autobrr/strikarr/internal/services/downloadclient"
	"github.com/autobrr/strikarr/internal/services/notifications"
	"github.com/autobrr/strikarr/internal/services/remover"
	"github.com/autobrr/strikarr/internal/services/striker"
	arrapi "github.com/autobrr/strikarr/pkg/arr"
	"github.com/autobrr/strikarr/pkg/hashutil"
)

// ErrPassInProgress is returned by RunOnce while another pass is running.
var ErrPassInProgress = errors.New("queue cleaner pass already running")

const (
	passOutcomeCompleted = "completed"
	passOutcomeFailed    = "failed"
	passOutcomeSkipped   = "skipped"

	pruneInterval = time.Hour
)

// ArrService is the *arr side of a pass.
type ArrService interface {
	QueueIterator(ctx context.Context, instance models.ArrInstance) iter.Seq2[[]arrapi.QueueRecord, error]
	IsRecordValid(instanceType models.ArrInstanceType, record arrapi.QueueRecord) bool
	ShouldRemoveFromQueue(ctx context.Context, instanceType models.ArrInstanceType, record arrapi.QueueRecord, isPrivate bool, maxStrikes int) (bool, error)
}

// Remover deletes a queue item and schedules its replacement search.
type Remover interface {
	RemoveQueueItem(ctx context.Context, req remover.QueueItemRemoveRequest) error
}

// ClientFactory builds the service for a configured download client.
type ClientFactory func(client models.DownloadClient, timeout time.Duration) (downloadclient.Service, error)

// SettingsFunc returns the current configuration snapshot.
type SettingsFunc func() domain.Config

type Deps struct {
	Settings      SettingsFunc
	Arr           ArrService
	Remover       Remover
	Dedup         *registry.DedupCache
	ClientFactory ClientFactory
	JobRuns       *models.JobRunStore
	Strikes       *models.StrikeStore
	Events        *models.EventStore
	Metrics       *collector.QueueCleanerCollector
	Notifier      notifications.Notifier
}

// PassStats summarizes one RunOnce call.
type PassStats struct {
	JobRunID  int64
	Instances int
	Items     int
	Removed   int
	Errors    int
	Skipped   bool
	Duration  time.Duration
}

type Service struct {
	deps Deps

	running atomic.Bool

	clientGroup singleflight.Group
	clientsMu   sync.Mutex
	clients     map[string]downloadclient.Service
}

func NewService(deps Deps) *Service {
	return &Service{
		deps:    deps,
		clients: make(map[string]downloadclient.Service),
	}
}

// DefaultClientFactory builds download client services that share checker.
func DefaultClientFactory(checker *downloadclient.Checker) ClientFactory {
	return func(client models.DownloadClient, timeout time.Duration) (downloadclient.Service, error) {
		return downloadclient.NewService(client, checker, timeout)
	}
}

func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}
	go s.loop(ctx)
}

func (s *Service) loop(ctx context.Context) {
	interval := s.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.prune(ctx)
	lastPrune := time.Now()

	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx)

			if time.Since(lastPrune) > pruneInterval {
				s.prune(ctx)
				lastPrune = time.Now()
			}

			// interval may change on reload
			if next := s.interval(); next != interval {
				log.Info().Dur("interval", next).Msg("queue cleaner: interval changed")
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (s *Service) interval() time.Duration {
	cfg := s.deps.Settings()
	if cfg.QueueCleaner.Interval < domain.MinQueueCleanerInterval {
		return domain.DefaultQueueCleanerInterval
	}
	return cfg.QueueCleaner.Interval
}

func (s *Service) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("queue cleaner: pass failed")
	}
}

func (s *Service) prune(ctx context.Context) {
	general := s.deps.Settings().General

	if s.deps.Strikes != nil {
		hours := general.StrikeRetentionHours
		if hours <= 0 {
			hours = domain.DefaultStrikeRetentionHours
		}
		if pruned, err := s.deps.Strikes.PruneOlderThan(ctx, hours); err != nil {
			log.Warn().Err(err).Msg("queue cleaner: failed to prune old strikes")
		} else if pruned > 0 {
			log.Info().Int64("count", pruned).Msg("queue cleaner: pruned old strikes")
		}
	}

	if s.deps.Events != nil {
		days := general.EventRetentionDays
		if days <= 0 {
			days = domain.DefaultEventRetentionDays
		}
		if pruned, err := s.deps.Events.Prune(ctx, days); err != nil {
			log.Warn().Err(err).Msg("queue cleaner: failed to prune old events")
		} else if pruned > 0 {
			log.Info().Int64("count", pruned).Msg("queue cleaner: pruned old events")
		}
	}
}

// RunOnce runs a single pass over every enabled instance. A configuration
// problem skips the pass without touching any queue. Errors from one instance
// are logged and do not stop the others; the returned error joins them.
func (s *Service) RunOnce(ctx context.Context) (PassStats, error) {
	var stats PassStats

	if !s.running.CompareAndSwap(false, true) {
		return stats, ErrPassInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	cfg := s.deps.Settings()

	if err := s.checkConfig(&cfg); err != nil {
		log.Warn().Err(err).Msg("queue cleaner: pass skipped")
		stats.Skipped = true
		stats.Duration = time.Since(start)
		s.deps.Metrics.RecordPass(passOutcomeSkipped, stats.Duration)
		s.finishSkipped(ctx, err)
		return stats, nil
	}

	jobRunID := s.startJobRun(ctx)
	stats.JobRunID = jobRunID
	if jobRunID > 0 {
		ctx = striker.WithJobRun(ctx, jobRunID)
	}

	instances := cfg.EnabledArrInstances()
	stats.Instances = len(instances)

	var (
		items   atomic.Int64
		removed atomic.Int64
		failed  atomic.Int64
		errsMu  sync.Mutex
		errs    []error
	)

	var g errgroup.Group
	g.SetLimit(cfg.QueueCleaner.InstanceConcurrency)

	for _, instance := range instances {
		g.Go(func() error {
			run, err := s.processInstance(ctx, cfg, instance)
			items.Add(int64(run.items))
			removed.Add(int64(run.removed))
			failed.Add(int64(run.errors))
			if err != nil {
				log.Error().Err(err).Str("instance", instance.Label()).Msg("queue cleaner: instance failed")
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", instance.Label(), err))
				errsMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Items = int(items.Load())
	stats.Removed = int(removed.Load())
	stats.Errors = int(failed.Load()) + len(errs)
	stats.Duration = time.Since(start)

	passErr := errors.Join(errs...)
	outcome := passOutcomeCompleted
	status := models.JobRunStatusCompleted
	if passErr != nil {
		outcome = passOutcomeFailed
		status = models.JobRunStatusFailed
		s.notifyFailure(passErr)
	}

	s.finishJobRun(ctx, jobRunID, status, passErr)
	s.deps.Metrics.RecordPass(outcome, stats.Duration)

	log.Info().
		Int("instances", stats.Instances).
		Int("items", stats.Items).
		Int("removed", stats.Removed).
		Int("errors", stats.Errors).
		Dur("duration", stats.Duration).
		Msg("queue cleaner: pass finished")

	return stats, passErr
}

func (s *Service) checkConfig(cfg *domain.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.QueueCleaner.Enabled {
		return errors.New("queue cleaner is disabled")
	}
	if len(cfg.EnabledArrInstances()) == 0 {
		return errors.New("no enabled arr instances")
	}
	for _, client := range cfg.EnabledDownloadClients() {
		if client.Type == models.DownloadClientTypeUTorrent {
			return fmt.Errorf("download client %q: %w", client.Name, downloadclient.ErrUnsupportedClient)
		}
	}
	return nil
}

func (s *Service) startJobRun(ctx context.Context) int64 {
	if s.deps.JobRuns == nil {
		return 0
	}
	id, err := s.deps.JobRuns.Start(ctx, models.JobTypeQueueCleaner)
	if err != nil {
		log.Warn().Err(err).Msg("queue cleaner: could not record job run")
		return 0
	}
	return id
}

func (s *Service) finishJobRun(ctx context.Context, id int64, status string, runErr error) {
	if s.deps.JobRuns == nil || id == 0 {
		return
	}
	if err := s.deps.JobRuns.Finish(context.WithoutCancel(ctx), id, status, runErr); err != nil {
		log.Warn().Err(err).Int64("jobRunId", id).Msg("queue cleaner: could not finish job run")
	}
}

func (s *Service) finishSkipped(ctx context.Context, reason error) {
	id := s.startJobRun(ctx)
	s.finishJobRun(ctx, id, models.JobRunStatusSkipped, reason)
}

func (s *Service) notifyFailure(err error) {
	if s.deps.Notifier == nil {
		return
	}
	s.deps.Notifier.Notify(notifications.Event{
		Type:         notifications.EventPassFailed,
		ErrorMessage: err.Error(),
	})
}

type instanceRun struct {
	items   int
	removed int
	errors  int
}

// processInstance reads the whole queue first, since a download spanning many
// records (a season pack) can straddle pages.
func (s *Service) processInstance(ctx context.Context, cfg domain.Config, instance models.ArrInstance) (instanceRun, error) {
	var run instanceRun

	var groups [][]arrapi.QueueRecord
	index := make(map[string]int)

	for records, err := range s.deps.Arr.QueueIterator(ctx, instance) {
		if err != nil {
			return run, err
		}
		for _, record := range records {
			if !s.deps.Arr.IsRecordValid(instance.Type, record) {
				continue
			}
			key := hashutil.Normalize(record.DownloadID)
			if i, ok := index[key]; ok {
				groups[i] = append(groups[i], record)
				continue
			}
			index[key] = len(groups)
			groups = append(groups, []arrapi.QueueRecord{record})
		}
	}

	if len(groups) == 0 {
		log.Debug().Str("instance", instance.Label()).Msg("queue cleaner: queue is empty")
		return run, nil
	}

	clients, err := s.downloadServices(cfg)
	if err != nil {
		return run, err
	}

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return run, err
		}

		run.items++
		removed, err := s.processItem(ctx, cfg, instance, clients, group)
		if err != nil {
			run.errors++
			log.Error().
				Err(err).
				Str("instance", instance.Label()).
				Str("downloadId", group[0].DownloadID).
				Str("title", group[0].Title).
				Msg("queue cleaner: failed to process queue item")
			continue
		}
		if removed {
			run.removed++
		}
	}

	return run, nil
}

// processItem decides on one download and removes it when either side says
// so. A panic is turned into an error so one bad item cannot end the pass.
func (s *Service) processItem(ctx context.Context, cfg domain.Config, instance models.ArrInstance, clients []downloadclient.Service, records []arrapi.QueueRecord) (removed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	record := records[0]
	hash := record.DownloadID

	logger := log.With().
		Str("instance", instance.Label()).
		Str("downloadId", hash).
		Str("title", record.Title).
		Logger()

	if cfg.General.IsIgnored(hash, record.Title) {
		logger.Debug().Msg("queue cleaner: download is ignored")
		return false, nil
	}

	if s.deps.Dedup != nil && s.deps.Dedup.Contains(hash, instance.URL) {
		logger.Debug().Msg("queue cleaner: removal already in progress")
		return false, nil
	}

	var result downloadclient.DownloadCheckResult
	if strings.EqualFold(record.Protocol, "torrent") {
		result = s.checkClients(ctx, cfg, clients, hash)
		if result.Ignored {
			return false, nil
		}
		if !result.Found {
			logger.Warn().Msg("queue cleaner: download not found in any download client")
		}
	}

	// Both verdicts are taken for every item. Failed-import strikes keep
	// counting while a client rule is striking the same download.
	failedImport := cfg.QueueCleaner.FailedImport
	arrRemove, arrErr := s.deps.Arr.ShouldRemoveFromQueue(ctx, instance.Type, record, result.IsPrivate, failedImport.MaxStrikes)

	var (
		reason           models.DeleteReason
		removeFromClient bool
	)
	switch {
	case result.ShouldRemove:
		if arrErr != nil {
			logger.Warn().Err(arrErr).Msg("queue cleaner: failed import check failed")
		}
		reason = result.DeleteReason
		removeFromClient = result.DeleteFromClient
	case arrErr != nil:
		return false, arrErr
	case arrRemove:
		reason = models.DeleteReasonFailedImport
		removeFromClient = !result.IsPrivate || failedImport.DeletePrivate
	default:
		return false, nil
	}

	if s.deps.Dedup != nil && !s.deps.Dedup.TryAcquire(hash, instance.URL) {
		logger.Debug().Msg("queue cleaner: removal already in progress")
		return false, nil
	}

	err = s.deps.Remover.RemoveQueueItem(ctx, remover.QueueItemRemoveRequest{
		Instance:         instance,
		Record:           record,
		SearchItems:      arr.SearchItemsFor(instance.Type, records),
		RemoveFromClient: removeFromClient,
		DeleteReason:     reason,
	})
	if errors.Is(err, remover.ErrQueueItemAlreadyDeleted) {
		logger.Info().Msg("queue cleaner: queue item was already gone")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// checkClients asks each client in turn and stops at the first that knows
// the hash.
func (s *Service) checkClients(ctx context.Context, cfg domain.Config, clients []downloadclient.Service, hash string) downloadclient.DownloadCheckResult {
	for _, client := range clients {
		result, err := client.ShouldRemoveFromArrQueue(ctx, hash, cfg.General.IgnoredDownloads)
		if err != nil {
			log.Warn().Err(err).Str("client", client.Name()).Str("downloadId", hash).Msg("queue cleaner: download client check failed")
			continue
		}
		if result.Found {
			return result
		}
	}
	return downloadclient.DownloadCheckResult{}
}

func (s *Service) downloadServices(cfg domain.Config) ([]downloadclient.Service, error) {
	enabled := cfg.EnabledDownloadClients()
	out := make([]downloadclient.Service, 0, len(enabled))
	timeout := cfg.General.HTTPTimeoutDuration()

	for _, client := range enabled {
		svc, err := s.downloadService(client, timeout)
		if err != nil {
			return nil, fmt.Errorf("download client %q: %w", client.Name, err)
		}
		out = append(out, svc)
	}
	return out, nil
}

// downloadService returns the cached service for client. Concurrent instance
// workers asking for the same client share one construction.
func (s *Service) downloadService(client models.DownloadClient, timeout time.Duration) (downloadclient.Service, error) {
	key := clientKey(client)

	s.clientsMu.Lock()
	svc, ok := s.clients[key]
	s.clientsMu.Unlock()
	if ok {
		return svc, nil
	}

	v, err, _ := s.clientGroup.Do(key, func() (any, error) {
		svc, err := s.deps.ClientFactory(client, timeout)
		if err != nil {
			return nil, err
		}
		s.clientsMu.Lock()
		s.clients[key] = svc
		s.clientsMu.Unlock()
		return svc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(downloadclient.Service), nil
}

func clientKey(client models.DownloadClient) string {
	return strings.Join([]string{
		string(client.Type),
		strings.ToLower(client.URL()),
		client.Username,
		client.Password,
		fmt.Sprint(client.TLSSkipVerify),
	}, "|")
}

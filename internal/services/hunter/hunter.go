// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hunter triggers replacement searches on *arr instances after a
// queue item has been removed.
package hunter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/autobrr/strikarr/internal/domain"
	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/services/arr"
	"github.com/autobrr/strikarr/internal/services/events"
)

const (
	MinSearchDelay     = 60 * time.Second
	DefaultSearchDelay = 120 * time.Second

	// one search per instance every searchInterval
	defaultSearchInterval = 10 * time.Second

	defaultQueueSize = 256
	defaultWorkers   = 2
)

var ErrHunterClosed = errors.New("hunter is shut down")

// Request asks for a replacement search for a removed download.
type Request struct {
	Instance   models.ArrInstance
	DownloadID string
	Title      string
	Items      []arr.SearchItem
}

// Searcher sends search commands to an instance.
type Searcher interface {
	SearchItems(ctx context.Context, instance models.ArrInstance, items []arr.SearchItem) error
}

// SettingsFunc returns the current configuration snapshot.
type SettingsFunc func() domain.Config

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

type Hunter struct {
	searcher  Searcher
	settings  SettingsFunc
	publisher events.Publisher
	wait      WaitFunc
	interval  time.Duration

	queue     chan Request
	startOnce sync.Once
	workers   sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	limiters map[string]*rate.Limiter
}

func New(searcher Searcher, settings SettingsFunc, publisher events.Publisher) *Hunter {
	return &Hunter{
		searcher:  searcher,
		settings:  settings,
		publisher: publisher,
		wait:      sleep,
		interval:  defaultSearchInterval,
		queue:     make(chan Request, defaultQueueSize),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// WithWait replaces the delay timer.
func (h *Hunter) WithWait(wait WaitFunc) *Hunter {
	h.wait = wait
	return h
}

// WithSearchInterval sets the minimum gap between searches on one instance.
// Zero disables the limit.
func (h *Hunter) WithSearchInterval(interval time.Duration) *Hunter {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interval = interval
	h.limiters = make(map[string]*rate.Limiter)
	return h
}

// Start launches the workers. Later calls do nothing.
func (h *Hunter) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		for range defaultWorkers {
			h.workers.Add(1)
			go h.worker(ctx)
		}
	})
}

// Enqueue hands req to the workers without blocking. A full queue drops the
// request; the download is struck again on a later pass if it comes back.
func (h *Hunter) Enqueue(req Request) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		log.Warn().Str("downloadId", req.DownloadID).Msg("hunter: shut down, dropping search request")
		return false
	}

	select {
	case h.queue <- req:
		return true
	default:
		log.Warn().
			Str("instance", req.Instance.Label()).
			Str("downloadId", req.DownloadID).
			Msg("hunter: queue full, dropping search request")
		return false
	}
}

// Shutdown stops accepting requests and waits for queued ones to finish or for
// ctx to be done.
func (h *Hunter) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hunter) worker(ctx context.Context) {
	defer h.workers.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-h.queue:
			if !ok {
				return
			}
			if err := h.HuntDownloads(ctx, req); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).
					Str("instance", req.Instance.Label()).
					Str("downloadId", req.DownloadID).
					Msg("hunter: search failed")
			}
		}
	}
}

// SearchDelay is the configured delay, or DefaultSearchDelay when that is
// unset or below MinSearchDelay.
func SearchDelay(general domain.GeneralSettings) time.Duration {
	delay := time.Duration(general.SearchDelay) * time.Second
	if delay < MinSearchDelay {
		return DefaultSearchDelay
	}
	return delay
}

// HuntDownloads waits out the search delay, takes the instance's rate limit
// and asks the instance to search for req.Items.
func (h *Hunter) HuntDownloads(ctx context.Context, req Request) error {
	general := h.settings().General
	if !general.SearchEnabled {
		log.Debug().Str("downloadId", req.DownloadID).Msg("hunter: search disabled")
		return nil
	}

	delay := SearchDelay(general)
	log.Debug().
		Str("instance", req.Instance.Label()).
		Str("downloadId", req.DownloadID).
		Dur("delay", delay).
		Msg("hunter: waiting before search")

	if err := h.wait(ctx, delay); err != nil {
		log.Info().Str("downloadId", req.DownloadID).Msg("hunter: search abandoned")
		return err
	}

	if err := h.limiter(req.Instance.URL).Wait(ctx); err != nil {
		log.Info().Str("downloadId", req.DownloadID).Msg("hunter: search abandoned")
		return err
	}

	// settings may have changed during the delay
	dryRun := h.settings().General.DryRun
	if dryRun {
		log.Debug().
			Str("instance", req.Instance.Label()).
			Str("downloadId", req.DownloadID).
			Int("items", len(req.Items)).
			Msg("hunter: dry run, search not sent")
	} else if err := h.searcher.SearchItems(ctx, req.Instance, req.Items); err != nil {
		return err
	}

	if h.publisher != nil {
		h.publisher.PublishSearchTriggered(ctx, events.Search{
			DownloadID:   req.DownloadID,
			Title:        req.Title,
			InstanceName: req.Instance.Label(),
			InstanceURL:  req.Instance.URL,
			DryRun:       dryRun,
		})
	}

	return nil
}

func (h *Hunter) limiter(instanceURL string) *rate.Limiter {
	key := strings.ToLower(strings.TrimRight(instanceURL, "/"))

	h.mu.Lock()
	defer h.mu.Unlock()

	if l, ok := h.limiters[key]; ok {
		return l
	}

	limit := rate.Inf
	if h.interval > 0 {
		limit = rate.Every(h.interval)
	}
	l := rate.NewLimiter(limit, 1)
	h.limiters[key] = l
	return l
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arr adapts pkg/arr clients to the queue cleaner: queue paging,
// record validation, queue deletion, failed-import strikes and replacement
// searches.
package arr

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/strikarr/internal/buildinfo"
	"github.com/autobrr/strikarr/internal/domain"
	"github.com/autobrr/strikarr/internal/models"
	arrapi "github.com/autobrr/strikarr/pkg/arr"
)

const defaultPageSize = 200

// API is the subset of *arrapi.Client the service calls.
type API interface {
	GetQueue(ctx context.Context, page, pageSize int) (*arrapi.QueuePage, error)
	DeleteQueueItem(ctx context.Context, id int, opts arrapi.DeleteOptions) error
	Command(ctx context.Context, cmd arrapi.Command) (*arrapi.CommandResponse, error)
	SystemStatus(ctx context.Context) (*arrapi.SystemStatus, error)
}

// ClientFactory builds an API client for an instance.
type ClientFactory func(instance models.ArrInstance, timeout time.Duration) API

// Striker records failed-import strikes.
type Striker interface {
	StrikeAndCheckLimit(ctx context.Context, hash, title string, maxStrikes int, strikeType models.StrikeType, lastDownloadedBytes *int64) (bool, error)
}

// SettingsFunc returns the current configuration snapshot.
type SettingsFunc func() domain.Config

// SearchItem identifies what to search for after a removal. Which fields are
// set depends on the instance type.
type SearchItem struct {
	ID           int `json:"id"`
	SeriesID     int `json:"seriesId,omitempty"`
	SeasonNumber int `json:"seasonNumber,omitempty"`
}

type Service struct {
	striker  Striker
	settings SettingsFunc
	factory  ClientFactory
	pageSize int

	mu      sync.Mutex
	clients map[string]API
}

func NewService(striker Striker, settings SettingsFunc) *Service {
	return &Service{
		striker:  striker,
		settings: settings,
		factory:  defaultClientFactory,
		pageSize: defaultPageSize,
		clients:  make(map[string]API),
	}
}

// WithClientFactory swaps how instance clients are built.
func (s *Service) WithClientFactory(factory ClientFactory) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factory = factory
	s.clients = make(map[string]API)
	return s
}

// WithPageSize sets the queue page size used by QueueIterator.
func (s *Service) WithPageSize(size int) *Service {
	if size > 0 {
		s.pageSize = size
	}
	return s
}

func defaultClientFactory(instance models.ArrInstance, timeout time.Duration) API {
	return arrapi.NewClient(arrapi.Config{
		Host:       instance.URL,
		APIVersion: instance.Type.APIVersion(),
		APIKey:     instance.APIKey,
		Timeout:    timeout,
		UserAgent:  buildinfo.UserAgent,
	})
}

func (s *Service) client(instance models.ArrInstance) API {
	key := string(instance.Type) + "|" + strings.ToLower(instance.URL) + "|" + instance.APIKey

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[key]; ok {
		return c
	}

	timeout := domain.DefaultHTTPTimeout * time.Second
	if s.settings != nil {
		timeout = s.settings().General.HTTPTimeoutDuration()
	}

	c := s.factory(instance, timeout)
	s.clients[key] = c
	return c
}

// Status returns the instance's system status.
func (s *Service) Status(ctx context.Context, instance models.ArrInstance) (*arrapi.SystemStatus, error) {
	return s.client(instance).SystemStatus(ctx)
}

// QueueIterator pages through the instance's queue. Each range over the
// returned sequence starts again at the first page. It stops once the reported
// total has been read, on an empty page, or after yielding an error.
func (s *Service) QueueIterator(ctx context.Context, instance models.ArrInstance) iter.Seq2[[]arrapi.QueueRecord, error] {
	return func(yield func([]arrapi.QueueRecord, error) bool) {
		client := s.client(instance)
		seen := 0

		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			resp, err := client.GetQueue(ctx, page, s.pageSize)
			if err != nil {
				yield(nil, fmt.Errorf("fetch queue page %d of %s: %w", page, instance.Label(), err))
				return
			}
			if len(resp.Records) == 0 {
				return
			}
			if !yield(resp.Records, nil) {
				return
			}

			seen += len(resp.Records)
			if seen >= resp.TotalRecords {
				return
			}
		}
	}
}

// IsRecordValid drops records that cannot be acted on: no download id, or no
// media id for the instance type to search with.
func (s *Service) IsRecordValid(instanceType models.ArrInstanceType, record arrapi.QueueRecord) bool {
	if strings.TrimSpace(record.DownloadID) == "" {
		log.Debug().Str("title", record.Title).Msg("arr: skipping queue record without download id")
		return false
	}

	var ok bool
	switch instanceType {
	case models.ArrInstanceTypeSonarr, models.ArrInstanceTypeWhisparr:
		ok = record.SeriesID > 0 && record.EpisodeID > 0
	case models.ArrInstanceTypeRadarr:
		ok = record.MovieID > 0
	case models.ArrInstanceTypeLidarr:
		ok = record.ArtistID > 0 && record.AlbumID > 0
	case models.ArrInstanceTypeReadarr:
		ok = record.AuthorID > 0 && record.BookID > 0
	}

	if !ok {
		log.Debug().
			Str("downloadId", record.DownloadID).
			Str("title", record.Title).
			Str("type", string(instanceType)).
			Msg("arr: skipping queue record without media ids")
	}
	return ok
}

// DeleteQueueItem removes the record from the instance queue. The *arr
// application is told to blocklist the release and skip its own redownload;
// the replacement search is triggered separately.
func (s *Service) DeleteQueueItem(ctx context.Context, instance models.ArrInstance, record arrapi.QueueRecord, removeFromClient bool, reason models.DeleteReason) error {
	log.Debug().
		Str("instance", instance.Label()).
		Str("downloadId", record.DownloadID).
		Int("queueId", record.ID).
		Str("reason", reason.String()).
		Bool("removeFromClient", removeFromClient).
		Msg("arr: deleting queue item")

	return s.client(instance).DeleteQueueItem(ctx, record.ID, arrapi.DeleteOptions{
		RemoveFromClient: removeFromClient,
		Blocklist:        true,
		SkipRedownload:   true,
	})
}

var failedImportStates = map[string]struct{}{
	"importpending": {},
	"importfailed":  {},
	"importblocked": {},
}

// ShouldRemoveFromQueue applies the failed-import strike to a record that the
// *arr application reports as stuck on import.
func (s *Service) ShouldRemoveFromQueue(ctx context.Context, instanceType models.ArrInstanceType, record arrapi.QueueRecord, isPrivate bool, maxStrikes int) (bool, error) {
	if maxStrikes == 0 {
		return false, nil
	}

	if !strings.EqualFold(record.TrackedDownloadStatus, "warning") {
		return false, nil
	}
	if _, ok := failedImportStates[strings.ToLower(record.TrackedDownloadState)]; !ok {
		return false, nil
	}

	var failedImport domain.FailedImportConfig
	if s.settings != nil {
		failedImport = s.settings().QueueCleaner.FailedImport
	}

	if isPrivate && failedImport.IgnorePrivate {
		log.Debug().Str("downloadId", record.DownloadID).Msg("arr: failed import ignored for private download")
		return false, nil
	}

	messages := statusMessages(record)
	if failedImport.MatchesIgnoredPattern(messages) {
		log.Debug().Str("downloadId", record.DownloadID).Str("type", string(instanceType)).Msg("arr: failed import matches an ignored pattern")
		return false, nil
	}

	return s.striker.StrikeAndCheckLimit(ctx, record.DownloadID, record.Title, maxStrikes, models.StrikeTypeFailedImport, nil)
}

func statusMessages(record arrapi.QueueRecord) []string {
	messages := make([]string, 0, len(record.StatusMessages)*2+1)
	if record.ErrorMessage != "" {
		messages = append(messages, record.ErrorMessage)
	}
	for _, sm := range record.StatusMessages {
		if sm.Title != "" {
			messages = append(messages, sm.Title)
		}
		messages = append(messages, sm.Messages...)
	}
	return messages
}

// SearchItemsFor collects the search targets of a group of queue records that
// share one download id.
func SearchItemsFor(instanceType models.ArrInstanceType, records []arrapi.QueueRecord) []SearchItem {
	seen := make(map[SearchItem]struct{}, len(records))
	items := make([]SearchItem, 0, len(records))

	for _, record := range records {
		var item SearchItem
		switch instanceType {
		case models.ArrInstanceTypeSonarr, models.ArrInstanceTypeWhisparr:
			item = SearchItem{ID: record.EpisodeID, SeriesID: record.SeriesID, SeasonNumber: record.SeasonNumber}
		case models.ArrInstanceTypeRadarr:
			item = SearchItem{ID: record.MovieID}
		case models.ArrInstanceTypeLidarr:
			item = SearchItem{ID: record.AlbumID}
		case models.ArrInstanceTypeReadarr:
			item = SearchItem{ID: record.BookID}
		}
		if item.ID == 0 && item.SeriesID == 0 {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		items = append(items, item)
	}

	return items
}

// BuildSearchCommands maps search items to the commands the instance type
// understands. Sonarr and Whisparr search episodes when ids are known, else
// whole seasons, else whole series.
func BuildSearchCommands(instanceType models.ArrInstanceType, items []SearchItem) []arrapi.Command {
	if len(items) == 0 {
		return nil
	}

	ids := make([]int, 0, len(items))
	for _, item := range items {
		if item.ID > 0 {
			ids = append(ids, item.ID)
		}
	}

	switch instanceType {
	case models.ArrInstanceTypeSonarr, models.ArrInstanceTypeWhisparr:
		if len(ids) == len(items) {
			return []arrapi.Command{{Name: "EpisodeSearch", EpisodeIDs: ids}}
		}
		var cmds []arrapi.Command
		seen := make(map[[2]int]struct{})
		for _, item := range items {
			if item.SeriesID == 0 {
				continue
			}
			key := [2]int{item.SeriesID, item.SeasonNumber}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if item.SeasonNumber > 0 {
				cmds = append(cmds, arrapi.Command{Name: "SeasonSearch", SeriesID: item.SeriesID, SeasonNumber: item.SeasonNumber})
			} else {
				cmds = append(cmds, arrapi.Command{Name: "SeriesSearch", SeriesID: item.SeriesID})
			}
		}
		return cmds
	case models.ArrInstanceTypeRadarr:
		if len(ids) > 0 {
			return []arrapi.Command{{Name: "MoviesSearch", MovieIDs: ids}}
		}
	case models.ArrInstanceTypeLidarr:
		if len(ids) > 0 {
			return []arrapi.Command{{Name: "AlbumSearch", AlbumIDs: ids}}
		}
	case models.ArrInstanceTypeReadarr:
		if len(ids) > 0 {
			return []arrapi.Command{{Name: "BookSearch", BookIDs: ids}}
		}
	}

	return nil
}

// SearchItems asks the instance to search for replacements.
func (s *Service) SearchItems(ctx context.Context, instance models.ArrInstance, items []SearchItem) error {
	cmds := BuildSearchCommands(instance.Type, items)
	if len(cmds) == 0 {
		return fmt.Errorf("no searchable items for %s", instance.Label())
	}

	client := s.client(instance)
	for _, cmd := range cmds {
		resp, err := client.Command(ctx, cmd)
		if err != nil {
			return fmt.Errorf("%s command on %s: %w", cmd.Name, instance.Label(), err)
		}
		log.Debug().Str("instance", instance.Label()).Str("command", cmd.Name).Int("commandId", resp.ID).Msg("arr: search command queued")
	}

	return nil
}

// IsNotFound reports whether err is a 404 from an *arr API.
func IsNotFound(err error) bool {
	return errors.Is(err, arrapi.ErrNotFound)
}

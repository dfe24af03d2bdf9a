// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications fans queue cleaner events out to shoutrrr targets.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog"

	"github.com/autobrr/strikarr/internal/domain"
)

const (
	queueSize   = 100
	workerCount = 2

	maxTitleRunes   = 80
	maxMessageRunes = 420
)

type Notifier interface {
	Notify(event Event)
}

type Event struct {
	Type             EventType
	InstanceName     string
	InstanceURL      string
	DownloadID       string
	DownloadTitle    string
	StrikeType       string
	Strikes          int
	MaxStrikes       int
	Reason           string
	RemoveFromClient bool
	DryRun           bool
	ErrorMessage     string
}

// Target is one shoutrrr destination. An empty Events filter allows all events.
type Target = domain.NotificationTarget

// TargetSource returns the current targets. It is read on every dispatch so
// reloaded configuration applies without a restart.
type TargetSource func() []Target

type sendFunc func(ctx context.Context, target Target, title, message string) error

// Service queues events and delivers them from a small worker pool. A nil
// *Service drops everything.
type Service struct {
	targets TargetSource
	logger  zerolog.Logger
	queue   chan Event
	started sync.Once
	send    sendFunc
}

func NewService(targets TargetSource, logger zerolog.Logger) *Service {
	if targets == nil {
		return nil
	}
	return &Service{
		targets: targets,
		logger:  logger.With().Str("component", "notifications").Logger(),
		queue:   make(chan Event, queueSize),
		send:    shoutrrrSend,
	}
}

// ValidateURL reports whether shoutrrr can build a sender for rawURL.
func ValidateURL(rawURL string) error {
	_, err := router.New(nil, rawURL)
	return err
}

func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.started.Do(func() {
		for range workerCount {
			go s.run(ctx)
		}
	})
}

// Notify never blocks. Events are dropped when the queue is full.
func (s *Service) Notify(event Event) {
	if s == nil {
		return
	}
	select {
	case s.queue <- event:
	default:
		s.logger.Warn().Str("event", string(event.Type)).Msg("queue full, dropping event")
	}
}

// SendTest delivers a one-off message to target, bypassing its event filter.
func (s *Service) SendTest(ctx context.Context, target Target, title, message string) error {
	if strings.TrimSpace(target.URL) == "" {
		return errors.New("notification target url required")
	}
	return shoutrrrSend(ctx, target, title, message)
}

func (s *Service) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.queue:
			s.dispatch(ctx, event)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, event Event) {
	title, message := formatEvent(event)
	if message == "" {
		return
	}

	for _, target := range s.targets() {
		if !target.Enabled {
			continue
		}
		if len(target.Events) > 0 && !slices.Contains(target.Events, string(event.Type)) {
			continue
		}
		if err := s.send(ctx, target, title, message); err != nil {
			s.logger.Error().Err(err).Str("target", target.Name).Str("event", string(event.Type)).Msg("send failed")
		}
	}
}

func shoutrrrSend(_ context.Context, target Target, title, message string) error {
	sender, err := router.New(nil, target.URL)
	if err != nil {
		return err
	}

	params := types.Params{}
	if title = strings.TrimSpace(title); title != "" {
		params.SetTitle(truncate(title, maxTitleRunes))
	}

	return errors.Join(sender.Send(truncate(message, maxMessageRunes), &params)...)
}

// formatEvent renders the title and body for event. Unknown events render
// empty and are not sent.
func formatEvent(event Event) (string, string) {
	title := event.Type.Title()
	if title == "" {
		return "", ""
	}

	var m message
	m.field("Instance", event.InstanceName)
	if event.Type != EventPassFailed {
		m.field("Download", downloadLabel(event.DownloadTitle, event.DownloadID))
	}

	switch event.Type {
	case EventStrike, EventRecurringItem:
		m.field("Strike", event.StrikeType)
		m.field("Count", fmt.Sprintf("%d/%d", event.Strikes, event.MaxStrikes))
	case EventQueueItemDeleted:
		if event.DryRun {
			title += " (dry run)"
		}
		m.field("Reason", event.Reason)
		m.field("Removed from client", yesNo(event.RemoveFromClient))
	case EventSearchNotTriggered:
		m.line("Search skipped for recurring item")
	case EventSearchTriggered:
		if event.DryRun {
			m.line("Dry run, search not sent")
		}
	case EventPassFailed:
		errMsg := strings.TrimSpace(event.ErrorMessage)
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		m.field("Error", errMsg)
	}

	return title, m.String()
}

// message collects non-empty lines of a notification body.
type message struct {
	lines []string
}

func (m *message) field(label, value string) {
	if value = strings.TrimSpace(value); value != "" {
		m.lines = append(m.lines, label+": "+value)
	}
}

func (m *message) line(text string) {
	m.lines = append(m.lines, text)
}

func (m *message) String() string {
	return strings.Join(m.lines, "\n")
}

// downloadLabel is the title followed by the first eight characters of the hash.
func downloadLabel(title, hash string) string {
	title = strings.TrimSpace(title)
	if hash = strings.TrimSpace(hash); len(hash) >= 8 {
		return fmt.Sprintf("%s [%s]", title, hash[:8])
	}
	return title
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// truncate trims value and cuts it to limit runes, ending in an ellipsis.
func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	if limit == 1 {
		return string(runes[:1])
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}

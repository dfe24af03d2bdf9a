// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/autobrr/strikarr/internal/dbinterface"
)

// Event types
const (
	EventTypeStrike             = "strike"
	EventTypeRecurringItem      = "recurring_item"
	EventTypeQueueItemDeleted   = "queue_item_deleted"
	EventTypeSearchNotTriggered = "search_not_triggered"
	EventTypeSearchTriggered    = "search_triggered"
)

// Event severities
const (
	EventSeverityInfo      = "info"
	EventSeverityWarning   = "warning"
	EventSeverityImportant = "important"
)

type Event struct {
	ID          int64           `json:"id"`
	EventType   string          `json:"eventType"`
	Severity    string          `json:"severity"`
	DownloadID  string          `json:"downloadId,omitempty"`
	InstanceURL string          `json:"instanceUrl,omitempty"`
	Title       string          `json:"title,omitempty"`
	Message     string          `json:"message,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type EventStore struct {
	db dbinterface.Querier
}

func NewEventStore(db dbinterface.Querier) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Create(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}

	severity := event.Severity
	if severity == "" {
		severity = EventSeverityInfo
	}

	var data sql.NullString
	if len(event.Data) > 0 {
		data = sql.NullString{String: string(event.Data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events
			(event_type, severity, download_id, instance_url, title, message, data)
		VALUES
			(?, ?, ?, ?, ?, ?, ?)
	`, event.EventType, severity, event.DownloadID, event.InstanceURL, event.Title, event.Message, data)

	return err
}

// List returns the newest events first. An empty downloadID lists all events.
func (s *EventStore) List(ctx context.Context, downloadID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, severity, download_id, instance_url, title, message, data, created_at
		FROM events
		WHERE (? = '' OR download_id = ? COLLATE NOCASE)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, downloadID, downloadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var data sql.NullString

		if err := rows.Scan(
			&e.ID,
			&e.EventType,
			&e.Severity,
			&e.DownloadID,
			&e.InstanceURL,
			&e.Title,
			&e.Message,
			&data,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}

		if data.Valid && data.String != "" {
			e.Data = json.RawMessage(data.String)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func (s *EventStore) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE created_at < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

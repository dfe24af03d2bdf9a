// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/autobrr/strikarr/internal/dbinterface"
)

var ErrDownloadItemNotFound = errors.New("download item not found")

// DownloadItem is one row per download id that has ever been struck.
type DownloadItem struct {
	ID                 int64     `json:"id"`
	DownloadID         string    `json:"downloadId"`
	Title              string    `json:"title"`
	IsRemoved          bool      `json:"isRemoved"`
	IsReturning        bool      `json:"isReturning"`
	IsMarkedForRemoval bool      `json:"isMarkedForRemoval"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// DownloadItemSummary is a download item with its strike counts per type.
type DownloadItemSummary struct {
	DownloadItem
	Strikes map[StrikeType]int `json:"strikes"`
}

type DownloadItemStore struct {
	db dbinterface.Querier
}

func NewDownloadItemStore(db dbinterface.Querier) *DownloadItemStore {
	return &DownloadItemStore{db: db}
}

func normalizeDownloadID(id string) string {
	return strings.TrimSpace(id)
}

func (s *DownloadItemStore) Get(ctx context.Context, downloadID string) (*DownloadItem, error) {
	var item DownloadItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, download_id, title, is_removed, is_returning, is_marked_for_removal, created_at, updated_at
		FROM download_items
		WHERE download_id = ?
	`, normalizeDownloadID(downloadID)).Scan(
		&item.ID, &item.DownloadID, &item.Title, &item.IsRemoved, &item.IsReturning,
		&item.IsMarkedForRemoval, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDownloadItemNotFound
		}
		return nil, err
	}

	return &item, nil
}

// MarkRemoved records that the item was deleted from its *arr queue. A later
// strike flips it to returning.
func (s *DownloadItemStore) MarkRemoved(ctx context.Context, downloadID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE download_items
		SET is_removed = 1, is_marked_for_removal = 0
		WHERE download_id = ?
	`, normalizeDownloadID(downloadID))
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDownloadItemNotFound
	}

	return nil
}

// ListSummaries returns the most recently updated items with their strike counts.
func (s *DownloadItemStore) ListSummaries(ctx context.Context, limit int) ([]*DownloadItemSummary, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, download_id, title, is_removed, is_returning, is_marked_for_removal, created_at, updated_at
		FROM download_items
		ORDER BY updated_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*DownloadItemSummary
	byID := make(map[int64]*DownloadItemSummary)
	for rows.Next() {
		var item DownloadItem
		if err := rows.Scan(
			&item.ID, &item.DownloadID, &item.Title, &item.IsRemoved, &item.IsReturning,
			&item.IsMarkedForRemoval, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		summary := &DownloadItemSummary{DownloadItem: item, Strikes: make(map[StrikeType]int)}
		summaries = append(summaries, summary)
		byID[item.ID] = summary
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	ids := make([]any, 0, len(summaries))
	for _, summary := range summaries {
		ids = append(ids, summary.ID)
	}

	countRows, err := s.db.QueryContext(ctx, `
		SELECT download_item_id, type, COUNT(*)
		FROM strikes
		WHERE download_item_id IN (`+dbinterface.BuildInClause(len(ids))+`)
		GROUP BY download_item_id, type
	`, ids...)
	if err != nil {
		return nil, err
	}
	defer countRows.Close()

	for countRows.Next() {
		var (
			itemID     int64
			strikeType string
			count      int
		)
		if err := countRows.Scan(&itemID, &strikeType, &count); err != nil {
			return nil, err
		}
		if summary, ok := byID[itemID]; ok {
			summary.Strikes[StrikeType(strikeType)] = count
		}
	}

	return summaries, countRows.Err()
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/strikarr/internal/dbinterface"
)

type Strike struct {
	ID                  int64      `json:"id"`
	DownloadItemID      int64      `json:"downloadItemId"`
	JobRunID            *int64     `json:"jobRunId,omitempty"`
	Type                StrikeType `json:"type"`
	LastDownloadedBytes *int64     `json:"lastDownloadedBytes,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// StrikeInput describes one strike to append.
type StrikeInput struct {
	DownloadID          string
	Title               string
	Type                StrikeType
	MaxStrikes          int
	JobRunID            *int64
	LastDownloadedBytes *int64
}

// StrikeOutcome is the ledger state right after a strike was recorded.
type StrikeOutcome struct {
	Item DownloadItem
	// Count includes the strike just recorded.
	Count int
	// Returned is set when the item had been removed before this strike.
	Returned bool
}

type StrikeStore struct {
	db dbinterface.TxBeginner
}

func NewStrikeStore(db dbinterface.TxBeginner) *StrikeStore {
	return &StrikeStore{db: db}
}

// Record upserts the download item, appends a strike and updates the item
// flags in one write transaction. The count it returns can't race another
// Record call for the same download.
func (s *StrikeStore) Record(ctx context.Context, in StrikeInput) (*StrikeOutcome, error) {
	downloadID := normalizeDownloadID(in.DownloadID)
	if downloadID == "" {
		return nil, errors.New("download id is required")
	}
	if in.Type == "" {
		return nil, errors.New("strike type is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin strike transaction: %w", err)
	}
	defer tx.Rollback()

	var item DownloadItem
	err = tx.QueryRowContext(ctx, `
		INSERT INTO download_items (download_id, title)
		VALUES (?, ?)
		ON CONFLICT(download_id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE download_items.title END
		RETURNING id, download_id, title, is_removed, is_returning, is_marked_for_removal
	`, downloadID, in.Title).Scan(
		&item.ID, &item.DownloadID, &item.Title, &item.IsRemoved, &item.IsReturning, &item.IsMarkedForRemoval,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert download item: %w", err)
	}

	var existing int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM strikes WHERE download_item_id = ? AND type = ?
	`, item.ID, string(in.Type)).Scan(&existing); err != nil {
		return nil, fmt.Errorf("count strikes: %w", err)
	}

	var jobRunID, lastBytes sql.NullInt64
	if in.JobRunID != nil {
		jobRunID = sql.NullInt64{Int64: *in.JobRunID, Valid: true}
	}
	if in.LastDownloadedBytes != nil {
		lastBytes = sql.NullInt64{Int64: *in.LastDownloadedBytes, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO strikes (download_item_id, job_run_id, type, last_downloaded_bytes)
		VALUES (?, ?, ?, ?)
	`, item.ID, jobRunID, string(in.Type), lastBytes); err != nil {
		return nil, fmt.Errorf("insert strike: %w", err)
	}

	outcome := &StrikeOutcome{Count: existing + 1}

	if item.IsRemoved {
		outcome.Returned = true
		item.IsReturning = true
		item.IsRemoved = false
		item.IsMarkedForRemoval = false
	}
	if in.MaxStrikes > 0 && outcome.Count >= in.MaxStrikes {
		item.IsMarkedForRemoval = true
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE download_items
		SET is_removed = ?, is_returning = ?, is_marked_for_removal = ?
		WHERE id = ?
	`, item.IsRemoved, item.IsReturning, item.IsMarkedForRemoval, item.ID); err != nil {
		return nil, fmt.Errorf("update download item flags: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit strike: %w", err)
	}

	outcome.Item = item
	return outcome, nil
}

func (s *StrikeStore) Count(ctx context.Context, downloadID string, strikeType StrikeType) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM strikes st
		JOIN download_items di ON di.id = st.download_item_id
		WHERE di.download_id = ? AND st.type = ?
	`, normalizeDownloadID(downloadID), string(strikeType)).Scan(&count)
	return count, err
}

// DeleteByType removes every strike of strikeType for the download.
func (s *StrikeStore) DeleteByType(ctx context.Context, downloadID string, strikeType StrikeType) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM strikes
		WHERE type = ?
		  AND download_item_id IN (SELECT id FROM download_items WHERE download_id = ?)
	`, string(strikeType), normalizeDownloadID(downloadID))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LastDownloadedBytes returns the downloaded byte count recorded with the most
// recent strike of strikeType, or nil when none was recorded.
func (s *StrikeStore) LastDownloadedBytes(ctx context.Context, downloadID string, strikeType StrikeType) (*int64, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT st.last_downloaded_bytes
		FROM strikes st
		JOIN download_items di ON di.id = st.download_item_id
		WHERE di.download_id = ? AND st.type = ?
		ORDER BY st.id DESC
		LIMIT 1
	`, normalizeDownloadID(downloadID), string(strikeType)).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Int64, nil
}

func (s *StrikeStore) ListByDownloadID(ctx context.Context, downloadID string) ([]*Strike, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.download_item_id, st.job_run_id, st.type, st.last_downloaded_bytes, st.created_at
		FROM strikes st
		JOIN download_items di ON di.id = st.download_item_id
		WHERE di.download_id = ?
		ORDER BY st.id ASC
	`, normalizeDownloadID(downloadID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strikes []*Strike
	for rows.Next() {
		var (
			strike     Strike
			jobRunID   sql.NullInt64
			lastBytes  sql.NullInt64
			strikeType string
		)
		if err := rows.Scan(&strike.ID, &strike.DownloadItemID, &jobRunID, &strikeType, &lastBytes, &strike.CreatedAt); err != nil {
			return nil, err
		}
		strike.Type = StrikeType(strikeType)
		if jobRunID.Valid {
			strike.JobRunID = &jobRunID.Int64
		}
		if lastBytes.Valid {
			strike.LastDownloadedBytes = &lastBytes.Int64
		}
		strikes = append(strikes, &strike)
	}

	return strikes, rows.Err()
}

// PruneOlderThan deletes strikes created more than hours ago.
func (s *StrikeStore) PruneOlderThan(ctx context.Context, hours int) (int64, error) {
	if hours <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM strikes
		WHERE created_at < datetime('now', '-' || ? || ' hours')
	`, hours)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/autobrr/strikarr/internal/dbinterface"
)

var ErrJobRunNotFound = errors.New("job run not found")

const (
	JobTypeQueueCleaner = "queue_cleaner"

	JobRunStatusRunning   = "running"
	JobRunStatusCompleted = "completed"
	JobRunStatusFailed    = "failed"
	JobRunStatusSkipped   = "skipped"
)

type JobRun struct {
	ID         int64      `json:"id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type JobRunStore struct {
	db dbinterface.Querier
}

func NewJobRunStore(db dbinterface.Querier) *JobRunStore {
	return &JobRunStore{db: db}
}

func (s *JobRunStore) Start(ctx context.Context, jobType string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (type, status) VALUES (?, ?)
	`, jobType, JobRunStatusRunning)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *JobRunStore) Finish(ctx context.Context, id int64, status string, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE job_runs SET status = ?, error = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, errText, id)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrJobRunNotFound
	}
	return nil
}

func (s *JobRunStore) Get(ctx context.Context, id int64) (*JobRun, error) {
	var (
		run        JobRun
		errText    sql.NullString
		finishedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, error, started_at, finished_at FROM job_runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Type, &run.Status, &errText, &run.StartedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobRunNotFound
		}
		return nil, err
	}

	run.Error = errText.String
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "Failed to initialize database")
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestDatabaseIntegrity(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	tables := []string{"migrations", "job_runs", "download_items", "strikes", "events"}
	for _, table := range tables {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		require.NoError(t, err, "Failed to check table existence")
		assert.Equal(t, 1, count, "Table %s should exist", table)
	}

	expectedColumns := map[string]bool{
		"id":                    false,
		"download_id":           false,
		"title":                 false,
		"is_removed":            false,
		"is_returning":          false,
		"is_marked_for_removal": false,
		"created_at":            false,
		"updated_at":            false,
	}

	rows, err := db.conn.Query(`SELECT name FROM pragma_table_info('download_items')`)
	require.NoError(t, err)
	defer rows.Close()

	for rows.Next() {
		var colName string
		require.NoError(t, rows.Scan(&colName))
		if _, exists := expectedColumns[colName]; exists {
			expectedColumns[colName] = true
		}
	}
	require.NoError(t, rows.Err())

	for col, found := range expectedColumns {
		assert.True(t, found, "Column %s should exist in download_items table", col)
	}
}

func TestMigrationIdempotency(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := New(dbPath)
	require.NoError(t, err, "Failed to initialize database first time")

	var count1 int
	require.NoError(t, db1.conn.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count1))
	require.NoError(t, db1.Close())

	db2, err := New(dbPath)
	require.NoError(t, err, "Failed to initialize database second time")
	defer db2.Close()

	var count2 int
	require.NoError(t, db2.conn.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count2))

	assert.Equal(t, count1, count2, "Migration count should be the same after re-initialization")
	assert.Equal(t, 1, count2)
}

func TestDownloadIDIsCaseInsensitiveUnique(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO download_items (download_id, title) VALUES (?, ?)", "ABCDEF", "one")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "INSERT INTO download_items (download_id, title) VALUES (?, ?)", "abcdef", "two")
	require.Error(t, err)
}

func TestIsWriteQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		want  bool
	}{
		{query: "INSERT INTO x VALUES (1)", want: true},
		{query: "  \n\tupdate x SET y = 1", want: true},
		{query: "DELETE FROM x", want: true},
		{query: "REPLACE INTO x VALUES (1)", want: true},
		{query: "SELECT 1", want: false},
		{query: "PRAGMA optimize", want: false},
		{query: "", want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isWriteQuery(tt.query), tt.query)
	}
}

func TestWriteTransactionsAreSerialized(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO job_runs (type) VALUES ('counter')")
	require.NoError(t, err)

	const workers = 16

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				errs <- err
				return
			}
			defer tx.Rollback()

			var n int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_runs").Scan(&n); err != nil {
				errs <- err
				return
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO job_runs (type, status) VALUES ('counter', ?)", n); err != nil {
				errs <- err
				return
			}
			errs <- tx.Commit()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// every transaction saw a distinct count
	var distinct int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT status) FROM job_runs WHERE status != 'running'").Scan(&distinct))
	assert.Equal(t, workers, distinct)
}

func TestExecAfterCloseFails(t *testing.T) {
	t.Parallel()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.ExecContext(context.Background(), "INSERT INTO job_runs (type) VALUES ('x')")
	require.ErrorIs(t, err, ErrDBStopping)
}

func TestMetricsCollector(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	_, err := db.ExecContext(context.Background(), "INSERT INTO job_runs (type) VALUES ('x')")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewMetricsCollector(db))

	count, err := testutil.GatherAndCount(reg, "strikarr_db_writes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.GreaterOrEqual(t, db.writesTotal.Load(), uint64(1))
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database provides the SQLite layer backing the strike ledger.
//
// WRITES:
//
// All single-statement writes issued through ExecContext are funneled into one
// writer goroutine. Write transactions started with BeginTx hold the same write
// lock for their whole lifetime, so a transaction never interleaves with any
// other write. Code holding a write transaction MUST issue its statements on
// the transaction; calling DB.ExecContext with a write while holding one
// deadlocks.
//
// READS:
//
// Reads use the pooled connection and a TTL cache of prepared statements.
// WAL mode lets readers proceed while a write transaction is open.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"

	"github.com/autobrr/strikarr/internal/dbinterface"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrDBStopping = errors.New("db stopping")

type writeReq struct {
	ctx   context.Context
	query string
	args  []any
	resCh chan writeRes
}

type writeRes struct {
	result sql.Result
	err    error
}

type DB struct {
	conn      *sql.DB
	writeConn *sql.Conn
	writeCh   chan writeReq
	writeMu   sync.Mutex
	stmts     *ttlcache.Cache[string, *sql.Stmt]

	writesTotal atomic.Uint64
	txTotal     atomic.Uint64

	stop      chan struct{}
	closeOnce sync.Once
	writerWG  sync.WaitGroup
	closing   atomic.Bool
	closeErr  error
}

// Tx wraps sql.Tx and releases the write lock exactly once on Commit or Rollback.
type Tx struct {
	tx      *sql.Tx
	db      *DB
	release func()
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := t.db.getStmt(ctx, query)
	if err != nil {
		return t.tx.ExecContext(ctx, query, args...)
	}

	txStmt := t.tx.StmtContext(ctx, stmt)
	defer txStmt.Close()
	return txStmt.ExecContext(ctx, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	// rows outlive the statement, so no cached statement here
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *Tx) Commit() error {
	defer t.release()
	return t.tx.Commit()
}

// Rollback is safe to defer after Commit; the second call returns sql.ErrTxDone.
func (t *Tx) Rollback() error {
	defer t.release()
	return t.tx.Rollback()
}

const (
	defaultBusyTimeout       = 5 * time.Second
	defaultBusyTimeoutMillis = int(defaultBusyTimeout / time.Millisecond)
	connectionSetupTimeout   = 5 * time.Second
	writeChannelBuffer       = 256
	stmtCacheTTL             = 5 * time.Minute
)

var driverInit sync.Once

type pragmaExecFn func(ctx context.Context, stmt string) error

func registerConnectionHook() {
	driverInit.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
			ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
			defer cancel()

			return applyConnectionPragmas(ctx, func(ctx context.Context, stmt string) error {
				if _, err := conn.ExecContext(ctx, stmt, nil); err != nil {
					return fmt.Errorf("connection hook exec %q: %w", stmt, err)
				}
				return nil
			})
		})
	})
}

func applyConnectionPragmas(ctx context.Context, exec pragmaExecFn) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeoutMillis),
	}

	for _, pragma := range pragmas {
		if err := exec(ctx, pragma); err != nil {
			return fmt.Errorf("apply connection pragma %q: %w", pragma, err)
		}
	}

	return nil
}

func newStmtCache() *ttlcache.Cache[string, *sql.Stmt] {
	return ttlcache.New(ttlcache.Options[string, *sql.Stmt]{}.SetDefaultTTL(stmtCacheTTL).
		SetDeallocationFunc(func(_ string, s *sql.Stmt, _ ttlcache.DeallocationReason) {
			if s != nil {
				_ = s.Close()
			}
		}))
}

// New opens (or creates) the database at databasePath and applies pending migrations.
func New(databasePath string) (*DB, error) {
	log.Info().Msgf("Initializing database at: %s", databasePath)

	dir := filepath.Dir(databasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create database directory %s", dir)
	}

	registerConnectionHook()

	conn, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", databasePath)
	}

	// one connection while the schema changes
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()
	if err := applyConnectionPragmas(ctx, func(ctx context.Context, stmt string) error {
		_, execErr := conn.ExecContext(ctx, stmt)
		return execErr
	}); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{
		conn:    conn,
		writeCh: make(chan writeReq, writeChannelBuffer),
		stmts:   newStmtCache(),
		stop:    make(chan struct{}),
	}

	if err := db.migrate(ctx); err != nil {
		db.stmts.Close()
		conn.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	conn.SetMaxOpenConns(0)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(0)

	writeConn, err := conn.Conn(ctx)
	if err != nil {
		db.stmts.Close()
		conn.Close()
		return nil, errors.Wrap(err, "failed to acquire write connection")
	}
	db.writeConn = writeConn

	db.writerWG.Add(1)
	go db.writerLoop()

	log.Info().Msgf("Database initialized successfully at: %s", databasePath)

	return db, nil
}

func (db *DB) getStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if s, found := db.stmts.Get(query); found && s != nil {
		return s, nil
	}

	// concurrent misses may prepare twice; the loser is closed on eviction
	s, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	db.stmts.Set(query, s, ttlcache.DefaultTTL)

	return s, nil
}

func isWriteQuery(query string) bool {
	q := strings.TrimLeftFunc(query, unicode.IsSpace)
	if q == "" {
		return false
	}

	upper := strings.ToUpper(q)
	return strings.HasPrefix(upper, "INSERT") ||
		strings.HasPrefix(upper, "UPDATE") ||
		strings.HasPrefix(upper, "UPSERT") ||
		strings.HasPrefix(upper, "REPLACE") ||
		strings.HasPrefix(upper, "DELETE")
}

// ExecContext routes write queries through the single writer goroutine. Do NOT
// use this for queries with RETURNING clauses, use QueryRowContext instead.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !isWriteQuery(query) {
		stmt, err := db.getStmt(ctx, query)
		if err != nil {
			return db.conn.ExecContext(ctx, query, args...)
		}
		return stmt.ExecContext(ctx, args...)
	}

	if db.closing.Load() {
		return nil, ErrDBStopping
	}

	resCh := make(chan writeRes, 1)
	req := writeReq{ctx: ctx, query: query, args: args, resCh: resCh}
	select {
	case db.writeCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-db.stop:
		return nil, ErrDBStopping
	}

	select {
	case res := <-resCh:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (db *DB) writerLoop() {
	defer db.writerWG.Done()

	for {
		select {
		case req := <-db.writeCh:
			db.processWrite(req)
		case <-db.stop:
			// drain what was accepted before Close
			for {
				select {
				case req := <-db.writeCh:
					db.processWrite(req)
				default:
					return
				}
			}
		}
	}
}

func (db *DB) processWrite(req writeReq) {
	if req.ctx.Err() != nil {
		req.resCh <- writeRes{err: req.ctx.Err()}
		return
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	var (
		res sql.Result
		err error
	)
	if stmt, stmtErr := db.getStmt(req.ctx, req.query); stmtErr == nil {
		res, err = stmt.ExecContext(req.ctx, req.args...)
	} else {
		res, err = db.writeConn.ExecContext(req.ctx, req.query, req.args...)
	}
	db.writesTotal.Add(1)

	req.resCh <- writeRes{result: res, err: err}
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		return db.conn.QueryContext(ctx, query, args...)
	}
	return stmt.QueryContext(ctx, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		return db.conn.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// BeginTx starts a transaction. Read-only transactions run on the pool; write
// transactions run on the dedicated write connection and hold the write lock
// until Commit or Rollback.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (dbinterface.TxQuerier, error) {
	if opts != nil && opts.ReadOnly {
		tx, err := db.conn.BeginTx(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Tx{tx: tx, db: db, release: func() {}}, nil
	}

	if db.closing.Load() {
		return nil, ErrDBStopping
	}

	db.writeMu.Lock()
	tx, err := db.writeConn.BeginTx(ctx, opts)
	if err != nil {
		db.writeMu.Unlock()
		return nil, err
	}
	db.txTotal.Add(1)

	var once sync.Once
	return &Tx{tx: tx, db: db, release: func() { once.Do(db.writeMu.Unlock) }}, nil
}

func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
		defer cancel()
		if _, err := db.conn.ExecContext(ctx, "PRAGMA optimize"); err != nil {
			log.Warn().Err(err).Msg("failed to run PRAGMA optimize during close")
		}

		db.closing.Store(true)
		close(db.stop)
		db.writerWG.Wait()

		db.stmts.Close()

		if db.writeConn != nil {
			if err := db.writeConn.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close write connection")
			}
		}

		db.closeErr = db.conn.Close()
	})

	return db.closeErr
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".sql" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	var pending []string
	for _, filename := range files {
		var count int
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations WHERE filename = ?", filename).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", filename, err)
		}
		if count == 0 {
			pending = append(pending, filename)
		}
	}

	if len(pending) == 0 {
		log.Debug().Msg("No pending migrations")
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, filename := range pending {
		content, err := migrationsFS.ReadFile("migrations/" + filename)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (filename) VALUES (?)", filename); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}

	log.Info().Msgf("Applied %d migrations successfully", len(pending))
	return nil
}

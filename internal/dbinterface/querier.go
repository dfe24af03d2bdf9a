// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface provides database interfaces to avoid import cycles.
// Stores accept these instead of the concrete database type so the same code
// runs against a pooled connection or inside a write transaction.
package dbinterface

import (
	"context"
	"database/sql"
	"strings"
)

// Querier is implemented by *sql.DB, *sql.Tx, *database.DB and *database.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TxQuerier is a Querier bound to an open transaction.
type TxQuerier interface {
	Querier
	Commit() error
	Rollback() error
}

// TxBeginner is an interface for types that can begin transactions.
type TxBeginner interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (TxQuerier, error)
}

// BuildInClause returns "?, ?, ?" for n values, for use inside IN (...).
func BuildInClause(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

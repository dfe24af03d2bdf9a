// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb hands out migrated sqlite databases to tests.
package testdb

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/autobrr/strikarr/internal/database"
)

// template is migrated once per test binary and copied for every test.
var template struct {
	once sync.Once
	path string
	err  error
}

// Open returns a migrated database private to the test. key names the file so
// a failing test points at its own database. The database is closed when the
// test finishes.
func Open(t testing.TB, key string) *database.DB {
	t.Helper()

	db, err := database.New(Path(t, key))
	if err != nil {
		t.Fatalf("open test DB %q: %v", key, err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// Path returns the path of a fresh migrated database file inside the test's
// temp dir without opening it.
func Path(t testing.TB, key string) string {
	t.Helper()

	template.once.Do(func() {
		template.path, template.err = migrateTemplate()
	})
	if template.err != nil {
		t.Fatalf("prepare test DB template: %v", template.err)
	}

	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '-'
		}
		return r
	}, strings.TrimSpace(key))
	if name == "" {
		name = "test"
	}

	dbPath := filepath.Join(t.TempDir(), name+".db")
	if err := copyFile(template.path, dbPath); err != nil {
		t.Fatalf("copy test DB template to %s: %v", dbPath, err)
	}
	// normally gone after close, copied if sqlite kept it around
	if _, err := os.Stat(template.path + "-wal"); err == nil {
		if err := copyFile(template.path+"-wal", dbPath+"-wal"); err != nil {
			t.Fatalf("copy test DB template wal: %v", err)
		}
	}
	return dbPath
}

// migrateTemplate runs the migrations into a scratch file.
func migrateTemplate() (string, error) {
	dir, err := os.MkdirTemp("", "strikarr-testdb-")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "template.db")
	db, err := database.New(path)
	if err != nil {
		return "", err
	}
	if err := db.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

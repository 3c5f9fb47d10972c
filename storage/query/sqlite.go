// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

//go:build !postgres

package query

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/luxfi/clob-indexer/storage"
)

func init() {
	storage.Register(storage.BackendSQLite, func(cfg storage.Config) (storage.Store, error) {
		return NewSQLite(cfg)
	})
}

type sqlite struct{}

func (sqlite) backend() storage.Backend { return storage.BackendSQLite }

// 256-bit integers and decimals are TEXT: SQLite NUMERIC affinity would
// coerce them to lossy REALs.
func (sqlite) sqlType(t storage.ColumnType) string {
	switch t {
	case storage.TypeInt, storage.TypeBigInt, storage.TypeBool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// NewSQLite opens an SQLite database file
func NewSQLite(cfg storage.Config) (*DB, error) {
	path := cfg.URL
	if path == "" {
		path = filepath.Join(cfg.DataDir, "indexer.db")
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database with WAL mode and other optimizations
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&cache=shared", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return newDB(db, sqlite{}), nil
}

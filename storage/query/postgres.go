// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

//go:build postgres

package query

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/luxfi/clob-indexer/storage"
)

func init() {
	storage.Register(storage.BackendPostgres, func(cfg storage.Config) (storage.Store, error) {
		return NewPostgres(cfg)
	})
}

type postgres struct{}

func (postgres) backend() storage.Backend { return storage.BackendPostgres }

func (postgres) sqlType(t storage.ColumnType) string {
	switch t {
	case storage.TypeInt:
		return "INTEGER"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeBool:
		return "BOOLEAN"
	case storage.TypeUint256:
		return "NUMERIC(78, 0)"
	case storage.TypeDecimal:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

// NewPostgres connects to a PostgreSQL database
func NewPostgres(cfg storage.Config) (*DB, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	// Connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return newDB(db, postgres{}), nil
}

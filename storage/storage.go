// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package storage defines the store the indexer projects events into.
// Backends register themselves: SQLite and PostgreSQL in storage/query,
// BadgerDB and in-memory in storage/kv.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Backend identifies the storage backend type
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendBadger   Backend = "badger"
	BackendMemory   Backend = "memory"
)

// Config for storage backend
type Config struct {
	Backend Backend
	URL     string            // Connection URL or file path
	DataDir string            // For file-based backends (SQLite, BadgerDB)
	Options map[string]string // Backend-specific options
}

// Collection names one entity set. It is the table name in SQL backends
// and the key prefix in KV backends.
type Collection string

const (
	CollectionTokens     Collection = "tokens"
	CollectionBooks      Collection = "books"
	CollectionDepths     Collection = "depths"
	CollectionOpenOrders Collection = "open_orders"
	CollectionChartLogs  Collection = "chart_logs"
	CollectionCursors    Collection = "cursors"
)

// Entity is a row of a collection.
type Entity interface {
	Collection() Collection
	Key() string
}

// Reader is the read side shared by stores and transactions.
type Reader interface {
	// Get loads the row stored under key into dst. Returns ErrNotFound.
	Get(ctx context.Context, coll Collection, key string, dst Entity) error
	// List loads rows whose key starts with prefix, ordered by key, into
	// dst, which must point to a slice of entity structs. limit <= 0 means no limit.
	List(ctx context.Context, coll Collection, prefix string, limit int, dst any) error
}

// Tx is a write transaction. It observes its own uncommitted writes.
type Tx interface {
	Reader
	// Insert adds a new row. Returns ErrAlreadyExists.
	Insert(ctx context.Context, e Entity) error
	// Put inserts or replaces a row.
	Put(ctx context.Context, e Entity) error
	// Delete removes a row if present.
	Delete(ctx context.Context, coll Collection, key string) error
	Commit() error
	Rollback() error
}

// Store is the main storage interface for indexed data.
// At most one write transaction is open at a time; Begin blocks until
// the previous one is committed or rolled back.
type Store interface {
	Reader
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotSupported  = errors.New("not supported by this backend")
	ErrClosed        = errors.New("store is closed")
	ErrTxDone        = errors.New("transaction already committed or rolled back")
)

// Opener creates a backend from config.
type Opener func(cfg Config) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Backend]Opener)
)

// Register makes a backend available to New. Backends call it from init.
func Register(b Backend, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b] = open
}

// New creates a new storage backend based on config
func New(cfg Config) (Store, error) {
	registryMu.RLock()
	open, ok := registry[cfg.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage backend: %s (available: %v)", cfg.Backend, AvailableBackends())
	}
	return open(cfg)
}

// AvailableBackends returns the backends compiled into this build
func AvailableBackends() []Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()
	backends := make([]Backend, 0, len(registry))
	for b := range registry {
		backends = append(backends, b)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i] < backends[j] })
	return backends
}

// ParseBackend parses a backend string
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "", "sqlite", "sqlite3":
		return BackendSQLite, nil
	case "postgres", "postgresql", "pg":
		return BackendPostgres, nil
	case "badger", "badgerdb":
		return BackendBadger, nil
	case "memory", "mem", "memdb":
		return BackendMemory, nil
	default:
		return "", fmt.Errorf("unknown backend: %s", s)
	}
}

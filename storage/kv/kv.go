// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package kv provides the key-value storage backend using github.com/luxfi/database.
// Sharing the node's database interface enables in-process mode where the
// indexer writes into the Lux node's BadgerDB under its own prefix.
package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"

	"github.com/luxfi/clob-indexer/storage"
)

func init() {
	storage.Register(storage.BackendBadger, func(cfg storage.Config) (storage.Store, error) {
		path := cfg.URL
		if path == "" {
			path = filepath.Join(cfg.DataDir, "badger")
		}
		return New(Config{Path: path})
	})
	storage.Register(storage.BackendMemory, func(storage.Config) (storage.Store, error) {
		return NewMemory(), nil
	})
}

// Config for the KV store
type Config struct {
	// Path to the database directory (for file-based backends)
	Path string

	// InProcess enables sharing the node's database
	InProcess bool

	// NodeDB is the node's database (only used when InProcess is true)
	NodeDB database.Database

	// Prefix to use for indexer data (to avoid conflicts with node data)
	Prefix []byte
}

// Store implements storage.Store over a luxfi/database.Database.
// Rows are JSON values under "<collection>:<key>".
type Store struct {
	db    database.Database
	owned bool // whether we own the db and should close it

	// writeMu is held by the open transaction
	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

var _ storage.Store = (*Store)(nil)

// New creates a new KV store
func New(cfg Config) (*Store, error) {
	if cfg.InProcess && cfg.NodeDB != nil {
		prefix := cfg.Prefix
		if len(prefix) == 0 {
			prefix = []byte("clob:")
		}
		return &Store{db: prefixdb.New(prefix, cfg.NodeDB)}, nil
	}

	db, err := badgerdb.New(cfg.Path, nil, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open badgerdb: %w", err)
	}
	return &Store{db: db, owned: true}, nil
}

// NewMemory creates an in-memory KV store (for testing)
func NewMemory() *Store {
	return &Store{db: memdb.New(), owned: true}
}

// Database returns the underlying database
func (s *Store) Database() database.Database {
	return s.db
}

// Init is a no-op; collections need no setup.
func (s *Store) Init(ctx context.Context) error {
	return s.check()
}

// Ping performs a health check
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.HealthCheck(ctx)
	return err
}

// Get loads a committed row.
func (s *Store) Get(ctx context.Context, coll storage.Collection, key string, dst storage.Entity) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	value, err := s.db.Get(RowKey(coll, key))
	if errors.Is(err, database.ErrNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(value, dst)
}

// List loads committed rows by key prefix.
func (s *Store) List(ctx context.Context, coll storage.Collection, prefix string, limit int, dst any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	rows, err := s.scan(RowKey(coll, prefix), nil, limit)
	if err != nil {
		return err
	}
	return decodeRows(rows, dst)
}

// Begin starts a transaction. Writes are buffered and flushed in a single
// batch on Commit.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	return &tx{store: s, pending: make(map[string][]byte)}, nil
}

// Close closes the store
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	// Only close if we own the database
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

// scan returns the values under prefix in key order, with pending writes
// laid over the committed state.
func (s *Store) scan(prefix []byte, pending map[string][]byte, limit int) ([][]byte, error) {
	merged := make(map[string][]byte)
	it := s.db.NewIteratorWithPrefix(prefix)
	for it.Next() {
		merged[string(it.Key())] = bytes.Clone(it.Value())
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return nil, err
	}

	for k, v := range pending {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	rows := make([][]byte, len(keys))
	for i, k := range keys {
		rows[i] = merged[k]
	}
	return rows, nil
}

// RowKey creates the key of a row
func RowKey(coll storage.Collection, key string) []byte {
	return CompositeKey([]byte(coll), []byte(key))
}

// CompositeKey creates a composite key from multiple parts
func CompositeKey(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p) + 1 // +1 for separator
	}
	key := make([]byte, 0, size)
	for i, p := range parts {
		if i > 0 {
			key = append(key, ':')
		}
		key = append(key, p...)
	}
	return key
}

// decodeRows decodes JSON rows into a pointer to a slice.
func decodeRows(rows [][]byte, dst any) error {
	array := append([]byte{'['}, bytes.Join(rows, []byte{','})...)
	array = append(array, ']')
	return json.Unmarshal(array, dst)
}

type tx struct {
	store   *Store
	pending map[string][]byte // nil marks a delete
	done    bool
}

func (t *tx) Get(ctx context.Context, coll storage.Collection, key string, dst storage.Entity) error {
	if t.done {
		return storage.ErrTxDone
	}
	if value, ok := t.pending[string(RowKey(coll, key))]; ok {
		if value == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(value, dst)
	}
	return t.store.Get(ctx, coll, key, dst)
}

func (t *tx) List(ctx context.Context, coll storage.Collection, prefix string, limit int, dst any) error {
	if t.done {
		return storage.ErrTxDone
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return storage.ErrClosed
	}
	rows, err := t.store.scan(RowKey(coll, prefix), t.pending, limit)
	if err != nil {
		return err
	}
	return decodeRows(rows, dst)
}

func (t *tx) Insert(ctx context.Context, e storage.Entity) error {
	if t.done {
		return storage.ErrTxDone
	}
	exists, err := t.has(e.Collection(), e.Key())
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("insert %s %s: %w", e.Collection(), e.Key(), storage.ErrAlreadyExists)
	}
	return t.Put(ctx, e)
}

func (t *tx) Put(ctx context.Context, e storage.Entity) error {
	if t.done {
		return storage.ErrTxDone
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", e.Collection(), e.Key(), err)
	}
	t.pending[string(RowKey(e.Collection(), e.Key()))] = value
	return nil
}

func (t *tx) Delete(ctx context.Context, coll storage.Collection, key string) error {
	if t.done {
		return storage.ErrTxDone
	}
	t.pending[string(RowKey(coll, key))] = nil
	return nil
}

func (t *tx) has(coll storage.Collection, key string) (bool, error) {
	k := RowKey(coll, key)
	if value, ok := t.pending[string(k)]; ok {
		return value != nil, nil
	}
	return t.store.db.Has(k)
}

func (t *tx) Commit() error {
	if t.done {
		return storage.ErrTxDone
	}
	defer t.finish()

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return storage.ErrClosed
	}

	keys := make([]string, 0, len(t.pending))
	for k := range t.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := t.store.db.NewBatch()
	for _, k := range keys {
		var err error
		if v := t.pending[k]; v == nil {
			err = batch.Delete([]byte(k))
		} else {
			err = batch.Put([]byte(k), v)
		}
		if err != nil {
			return err
		}
	}
	return batch.Write()
}

func (t *tx) Rollback() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	t.pending = nil
	t.store.writeMu.Unlock()
}

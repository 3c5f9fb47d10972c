// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package query provides the SQL storage backend.
// Default backend is SQLite. Build with -tags postgres for PostgreSQL.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/luxfi/clob-indexer/storage"
)

// dialect holds what differs between SQL engines.
type dialect interface {
	backend() storage.Backend
	sqlType(t storage.ColumnType) string
}

// DB implements storage.Store over a SQL database.
type DB struct {
	db      *sqlx.DB
	dialect dialect
	schema  storage.Schema

	// writeMu is held by the open transaction
	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

var _ storage.Store = (*DB)(nil)

func newDB(db *sqlx.DB, d dialect) *DB {
	return &DB{db: db, dialect: d, schema: storage.IndexerSchema}
}

// Backend returns the backend type
func (d *DB) Backend() storage.Backend {
	return d.dialect.backend()
}

// Init creates missing tables and indexes.
func (d *DB) Init(ctx context.Context) error {
	return d.InitSchema(ctx, d.schema)
}

// InitSchema creates the tables and indexes of a schema if they do not exist.
func (d *DB) InitSchema(ctx context.Context, schema storage.Schema) error {
	for _, table := range schema.Tables {
		if err := d.createTable(ctx, table); err != nil {
			return fmt.Errorf("create table %s: %w", table.Name, err)
		}
	}
	for _, idx := range schema.Indexes {
		if err := d.createIndex(ctx, idx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.Name, err)
		}
	}
	return nil
}

func (d *DB) createTable(ctx context.Context, table storage.Table) error {
	var cols []string
	var primaryCols []string

	for _, col := range table.Columns {
		def := fmt.Sprintf("%s %s", quote(col.Name), d.dialect.sqlType(col.Type))
		if !col.Nullable {
			def += " NOT NULL"
		}
		if col.Default != "" {
			def += " DEFAULT " + col.Default
		}
		if col.Primary {
			primaryCols = append(primaryCols, quote(col.Name))
		}
		cols = append(cols, def)
	}

	if len(primaryCols) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(primaryCols, ", ")))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", quote(table.Name), strings.Join(cols, ",\n  "))
	_, err := d.db.ExecContext(ctx, query)
	return err
}

func (d *DB) createIndex(ctx context.Context, idx storage.Index) error {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = quote(c)
	}
	query := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, idx.Name, quote(idx.Table), strings.Join(cols, ", "))
	_, err := d.db.ExecContext(ctx, query)
	return err
}

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

func (d *DB) check() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return storage.ErrClosed
	}
	return nil
}

// Get loads a committed row.
func (d *DB) Get(ctx context.Context, coll storage.Collection, key string, dst storage.Entity) error {
	if err := d.check(); err != nil {
		return err
	}
	return get(ctx, d.db, d.schema, coll, key, dst)
}

// List loads committed rows by key prefix.
func (d *DB) List(ctx context.Context, coll storage.Collection, prefix string, limit int, dst any) error {
	if err := d.check(); err != nil {
		return err
	}
	return list(ctx, d.db, d.schema, coll, prefix, limit, dst)
}

// Begin starts a transaction.
func (d *DB) Begin(ctx context.Context) (storage.Tx, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	d.writeMu.Lock()
	sqlTx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		d.writeMu.Unlock()
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &tx{db: d, tx: sqlTx}, nil
}

// runner is satisfied by both *sqlx.DB and *sqlx.Tx.
type runner interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	Rebind(query string) string
}

func tableOf(schema storage.Schema, coll storage.Collection) (storage.Table, error) {
	table, ok := schema.Table(coll)
	if !ok {
		return storage.Table{}, fmt.Errorf("collection %s: %w", coll, storage.ErrNotSupported)
	}
	return table, nil
}

func get(ctx context.Context, r runner, schema storage.Schema, coll storage.Collection, key string, dst storage.Entity) error {
	table, err := tableOf(schema, coll)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", quote(table.Name), quote(table.PrimaryKey()))
	err = r.GetContext(ctx, dst, r.Rebind(query), key)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func list(ctx context.Context, r runner, schema storage.Schema, coll storage.Collection, prefix string, limit int, dst any) error {
	table, err := tableOf(schema, coll)
	if err != nil {
		return err
	}
	pk := quote(table.PrimaryKey())
	query := fmt.Sprintf(`SELECT * FROM %s WHERE CAST(%s AS TEXT) LIKE ? ESCAPE '\' ORDER BY CAST(%s AS TEXT)`,
		quote(table.Name), pk, pk)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return r.SelectContext(ctx, dst, r.Rebind(query), likePrefix(prefix))
}

func upsert(ctx context.Context, r runner, schema storage.Schema, e storage.Entity) error {
	table, err := tableOf(schema, e.Collection())
	if err != nil {
		return err
	}
	names := table.ColumnNames()
	cols := make([]string, len(names))
	params := make([]string, len(names))
	var updates []string
	for i, n := range names {
		cols[i] = quote(n)
		params[i] = ":" + n
		if n != table.PrimaryKey() {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quote(n), quote(n)))
		}
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		quote(table.Name), strings.Join(cols, ", "), strings.Join(params, ", "),
		quote(table.PrimaryKey()), strings.Join(updates, ", "))
	_, err = r.NamedExecContext(ctx, query, e)
	return err
}

func remove(ctx context.Context, r runner, schema storage.Schema, coll storage.Collection, key string) error {
	table, err := tableOf(schema, coll)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(table.Name), quote(table.PrimaryKey()))
	_, err = r.ExecContext(ctx, r.Rebind(query), key)
	return err
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

type tx struct {
	db   *DB
	tx   *sqlx.Tx
	done bool
}

func (t *tx) Get(ctx context.Context, coll storage.Collection, key string, dst storage.Entity) error {
	if t.done {
		return storage.ErrTxDone
	}
	return get(ctx, t.tx, t.db.schema, coll, key, dst)
}

func (t *tx) List(ctx context.Context, coll storage.Collection, prefix string, limit int, dst any) error {
	if t.done {
		return storage.ErrTxDone
	}
	return list(ctx, t.tx, t.db.schema, coll, prefix, limit, dst)
}

func (t *tx) Insert(ctx context.Context, e storage.Entity) error {
	if t.done {
		return storage.ErrTxDone
	}
	table, err := tableOf(t.db.schema, e.Collection())
	if err != nil {
		return err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", quote(table.Name), quote(table.PrimaryKey()))
	if err := t.tx.GetContext(ctx, &n, t.tx.Rebind(query), e.Key()); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("insert %s %s: %w", e.Collection(), e.Key(), storage.ErrAlreadyExists)
	}
	return upsert(ctx, t.tx, t.db.schema, e)
}

func (t *tx) Put(ctx context.Context, e storage.Entity) error {
	if t.done {
		return storage.ErrTxDone
	}
	return upsert(ctx, t.tx, t.db.schema, e)
}

func (t *tx) Delete(ctx context.Context, coll storage.Collection, key string) error {
	if t.done {
		return storage.ErrTxDone
	}
	return remove(ctx, t.tx, t.db.schema, coll, key)
}

func (t *tx) Commit() error {
	if t.done {
		return storage.ErrTxDone
	}
	defer t.finish()
	return t.tx.Commit()
}

func (t *tx) Rollback() error {
	if t.done {
		return storage.ErrTxDone
	}
	defer t.finish()
	return t.tx.Rollback()
}

func (t *tx) finish() {
	t.done = true
	t.db.writeMu.Unlock()
}

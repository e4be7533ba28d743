// Package sqlite adapts the embedded SQLite engine to the integrity and
// recovery subsystem. It exposes the pragma vocabulary, catalog inspection,
// byte-image export and import, and the DDL for the guaranteed and bootstrap
// schemas.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DatabaseFile is the store file name inside the data directory.
const DatabaseFile = "ledger.db"

const memoryDSN = ":memory:"

// Tracer receives every statement the engine sends to the driver.
type Tracer func(query string)

// Engine wraps a single SQLite connection. The pool is pinned to one
// connection so per-connection pragmas stay coherent and statements are
// serialized.
type Engine struct {
	db   *sql.DB
	path string

	// cleanup removes files owned by the engine (throwaway images) on Close.
	cleanup func()

	traceMu sync.RWMutex
	tracer  Tracer

	closeMu sync.Mutex
	closed  bool
}

// Open opens (creating if needed) the store at path. The parent directory is
// created if it does not exist.
func Open(ctx context.Context, path string) (*Engine, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	return open(ctx, path, path)
}

// OpenMemory opens an empty in-memory store.
func OpenMemory(ctx context.Context) (*Engine, error) {
	return open(ctx, memoryDSN, "")
}

// OpenDataDir opens the store file inside dataDir.
func OpenDataDir(ctx context.Context, dataDir string) (*Engine, error) {
	return Open(ctx, filepath.Join(dataDir, DatabaseFile))
}

func open(ctx context.Context, dsn, path string) (*Engine, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}
	return &Engine{db: db, path: path}, nil
}

// Close releases the connection. Close is idempotent. Statements issued
// after Close fail with the driver's closed-database error.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.db.Close()
	if e.cleanup != nil {
		e.cleanup()
		e.cleanup = nil
	}
	return err
}

// Path returns the store file path, or "" for an in-memory store.
func (e *Engine) Path() string {
	return e.path
}

// InMemory reports whether the store lives only in memory.
func (e *Engine) InMemory() bool {
	return e.path == ""
}

// SetTracer installs fn as the statement tracer; nil removes it.
func (e *Engine) SetTracer(fn Tracer) {
	e.traceMu.Lock()
	defer e.traceMu.Unlock()
	e.tracer = fn
}

func (e *Engine) trace(query string) {
	e.traceMu.RLock()
	fn := e.tracer
	e.traceMu.RUnlock()
	if fn != nil {
		fn(query)
	}
}

// Exec runs a statement outside any transaction.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	e.trace(query)
	return e.db.ExecContext(ctx, query, args...)
}

// Query runs a query outside any transaction. Callers must close the rows
// before issuing another statement; the engine has one connection.
func (e *Engine) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	e.trace(query)
	return e.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query outside any transaction.
func (e *Engine) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	e.trace(query)
	return e.db.QueryRowContext(ctx, query, args...)
}

// Tx is a transaction on the engine connection.
type Tx struct {
	tx *sql.Tx
	e  *Engine
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t.e.trace(query)
	return t.tx.ExecContext(ctx, query, args...)
}

// Query runs a query inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	t.e.trace(query)
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query inside the transaction.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	t.e.trace(query)
	return t.tx.QueryRowContext(ctx, query, args...)
}

// InTx runs fn inside a single transaction. The transaction commits only if
// fn returns nil; otherwise it rolls back and fn's error is returned.
func (e *Engine) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	e.trace("BEGIN")
	sqlTx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, e: e}); err != nil {
		return err
	}

	e.trace("COMMIT")
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// runner is satisfied by both Engine and Tx so the catalog and pragma
// helpers work inside and outside transactions.
type runner interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ runner = (*Engine)(nil)
	_ runner = (*Tx)(nil)
)

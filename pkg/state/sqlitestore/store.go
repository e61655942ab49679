// Package sqlitestore persists state snapshots to a single SQLite table as
// JSON blobs. One process at a time may hold the database open for writing.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/goliatone/go-onboarding/pkg/state"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// ErrLocked is returned when another process holds the writer lock.
var ErrLocked = errors.New("sqlitestore: database is locked by another process")

// DB owns the sql handle and the writer lock. Typed stores share one DB.
type DB struct {
	db       *sql.DB
	lock     *flock.Flock
	path     string
	lockPath string
}

// Open creates parent directories, takes the writer lock next to path and
// ensures the snapshot table exists.
func Open(path string) (*DB, error) {
	if path == "" {
		path = "onboarding.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("sqlitestore: create dirs: %w", err)
	}

	lockPath := path + ".lock"
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("sqlitestore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		meta BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("sqlitestore: create state table: %w", err)
	}
	return &DB{db: db, lock: lock, path: path, lockPath: lockPath}, nil
}

// Close closes the database and releases the writer lock.
func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	err := d.db.Close()
	if unlockErr := d.lock.Unlock(); unlockErr != nil && err == nil {
		err = fmt.Errorf("sqlitestore: release lock: %w", unlockErr)
	}
	return err
}

// Path returns the configured database path.
func (d *DB) Path() string { return d.path }

// SQL exposes the underlying sql.DB for integration testing hooks.
func (d *DB) SQL() *sql.DB { return d.db }

// Store is a state.Store backed by DB.
type Store[T any] struct {
	db *DB
}

var _ state.Store[map[string]any] = (*Store[map[string]any])(nil)

// New returns a typed store over db.
func New[T any](db *DB) *Store[T] {
	return &Store[T]{db: db}
}

func (s *Store[T]) Load(ctx context.Context, ref state.Ref) (T, state.Meta, bool, error) {
	var zero T
	key, err := ref.Identifier()
	if err != nil {
		return zero, state.Meta{}, false, err
	}
	var payload, metaJSON []byte
	err = s.db.db.QueryRowContext(ctx, `SELECT payload, meta FROM state WHERE bucket = ?`, key).Scan(&payload, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, state.Meta{}, false, nil
	}
	if err != nil {
		return zero, state.Meta{}, false, fmt.Errorf("sqlitestore: select %s: %w", key, err)
	}
	snapshot, meta, err := state.Decode[T](payload, metaJSON)
	if err != nil {
		return zero, state.Meta{}, false, err
	}
	return snapshot, meta, true, nil
}

func (s *Store[T]) Save(ctx context.Context, ref state.Ref, snapshot T, meta state.Meta) (state.Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return state.Meta{}, err
	}
	payload, metaJSON, err := state.Encode(snapshot, meta)
	if err != nil {
		return state.Meta{}, err
	}
	if _, err := s.db.db.ExecContext(ctx,
		`INSERT INTO state(bucket,payload,meta) VALUES(?,?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload, meta=excluded.meta`,
		key, payload, metaJSON,
	); err != nil {
		return state.Meta{}, fmt.Errorf("sqlitestore: upsert %s: %w", key, err)
	}
	return meta, nil
}

func (s *Store[T]) Delete(ctx context.Context, ref state.Ref) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM state WHERE bucket = ?`, key); err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", key, err)
	}
	return nil
}

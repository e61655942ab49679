// Package pgstore persists state snapshots to Postgres as JSONB rows, for
// deployments where onboarding state is kept server side.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-onboarding/pkg/state"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/onboarding?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// DB wraps the shared connection pool used by typed stores.
type DB struct {
	db *sql.DB
}

// Open connects using dsn (falls back to a local default), pings the server
// and ensures the snapshot table exists.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("pgstore: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgstore: ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close closes the pool.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// SQL exposes the underlying sql.DB for integration testing hooks.
func (d *DB) SQL() *sql.DB { return d.db }

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS onboarding_state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		meta JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("pgstore: ensure state table: %w", err)
	}
	return nil
}

// Store is a state.Store backed by Postgres.
type Store[T any] struct {
	db *DB
}

var _ state.Store[string] = (*Store[string])(nil)

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
	err = s.db.db.QueryRowContext(ctx, `SELECT payload, meta FROM onboarding_state WHERE bucket = $1`, key).Scan(&payload, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, state.Meta{}, false, nil
	}
	if err != nil {
		return zero, state.Meta{}, false, fmt.Errorf("pgstore: select %s: %w", key, err)
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
		`INSERT INTO onboarding_state (bucket, payload, meta) VALUES ($1, $2, $3)
		ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload, meta = EXCLUDED.meta`,
		key, payload, metaJSON,
	); err != nil {
		return state.Meta{}, fmt.Errorf("pgstore: upsert %s: %w", key, err)
	}
	return meta, nil
}

func (s *Store[T]) Delete(ctx context.Context, ref state.Ref) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM onboarding_state WHERE bucket = $1`, key); err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", key, err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

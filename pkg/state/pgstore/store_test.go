package pgstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-onboarding/pkg/state"
)

func TestOpenEnsuresTableAndRoundTrips(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	ctx := context.Background()
	pg, err := Open(ctx, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = pg.Close() }()

	if !conn.sawExec("CREATE TABLE IF NOT EXISTS onboarding_state") {
		t.Fatalf("expected state table DDL, got %v", conn.execs)
	}

	store := New[map[string]any](pg)
	ref := state.Ref{Domain: "onboarding.flow", Key: "device-1"}
	if _, _, ok, err := store.Load(ctx, ref); err != nil || ok {
		t.Fatalf("expected no snapshot, ok=%v err=%v", ok, err)
	}
	if _, err := store.Save(ctx, ref, map[string]any{"current": "Privacy"}, state.Meta{ETag: "v1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, meta, ok, err := store.Load(ctx, ref)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got["current"] != "Privacy" || meta.ETag != "v1" {
		t.Fatalf("unexpected snapshot %v meta %+v", got, meta)
	}

	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, ok, _ := store.Load(ctx, ref); ok {
		t.Fatalf("expected snapshot deleted")
	}
}

func TestOpenFailsWhenPingFails(t *testing.T) {
	db, conn := newStubDB()
	conn.failPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	if _, err := Open(context.Background(), "postgres://example"); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping failure, got %v", err)
	}
}

func TestOpenSurfacesOpenError(t *testing.T) {
	boom := errors.New("no driver")
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, boom })
	defer restore()

	if _, err := Open(context.Background(), ""); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}

// --- stub driver helpers ---

type stubDriver struct {
	conn *stubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

type stubRow struct {
	payload []byte
	meta    []byte
}

type stubConn struct {
	mu       sync.Mutex
	execs    []string
	rows     map[string]stubRow
	failPing bool
}

func newStubDB() (*sql.DB, *stubConn) {
	conn := &stubConn{rows: map[string]stubRow{}}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

func (c *stubConn) sawExec(prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stmt := range c.execs {
		if strings.HasPrefix(strings.TrimSpace(stmt), prefix) {
			return true
		}
	}
	return false
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, fmt.Errorf("not implemented") }

func (c *stubConn) Ping(context.Context) error {
	if c.failPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, query)
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "INSERT INTO"):
		if len(args) != 3 {
			return nil, fmt.Errorf("expected 3 args, got %d", len(args))
		}
		key, _ := args[0].Value.(string)
		c.rows[key] = stubRow{payload: asBytes(args[1].Value), meta: asBytes(args[2].Value)}
	case strings.HasPrefix(upper, "DELETE FROM"):
		key, _ := args[0].Value.(string)
		delete(c.rows, key)
	}
	return driver.RowsAffected(1), nil
}

func (c *stubConn) QueryContext(_ context.Context, _ string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := &stubRows{cols: []string{"payload", "meta"}}
	if len(args) == 1 {
		key, _ := args[0].Value.(string)
		if row, ok := c.rows[key]; ok {
			rows.rows = [][]driver.Value{{row.payload, row.meta}}
		}
	}
	return rows, nil
}

func asBytes(v driver.Value) []byte {
	switch typed := v.(type) {
	case []byte:
		out := make([]byte, len(typed))
		copy(out, typed)
		return out
	case string:
		return []byte(typed)
	default:
		return nil
	}
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

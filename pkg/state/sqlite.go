package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vertti/healthwatch/pkg/retryqueue"
)

// DBFile is the state database file name inside the data directory.
const DBFile = "state.db"

const (
	keyLastReport = "last_report"
	opTimeout     = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS kv(key TEXT PRIMARY KEY, value TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS retry_queue(
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	enqueued_at INTEGER NOT NULL,
	snapshot TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cycle_lease(
	id INTEGER PRIMARY KEY CHECK (id = 1),
	owner TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);`

// SQLiteStore is a Store backed by a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the state database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// LoadReport reads the last delivered report from the kv table.
func (s *SQLiteStore) LoadReport(ctx context.Context) (Report, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, keyLastReport).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, fmt.Errorf("load last report: %w", err)
	}

	var r Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Report{}, false, fmt.Errorf("decode last report: %w", err)
	}
	return r, true, nil
}

// SaveReport upserts the last delivered report.
func (s *SQLiteStore) SaveReport(ctx context.Context, r Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode last report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		keyLastReport, string(raw))
	if err != nil {
		return fmt.Errorf("save last report: %w", err)
	}
	return nil
}

// LoadQueue returns the persisted retry entries, oldest first.
func (s *SQLiteStore) LoadQueue(ctx context.Context) ([]retryqueue.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT enqueued_at, snapshot FROM retry_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load retry queue: %w", err)
	}
	defer rows.Close()

	var entries []retryqueue.Entry
	for rows.Next() {
		var (
			at  int64
			raw string
		)
		if err := rows.Scan(&at, &raw); err != nil {
			return nil, fmt.Errorf("load retry queue: %w", err)
		}
		e := retryqueue.Entry{EnqueuedAt: time.UnixMilli(at).UTC()}
		if err := json.Unmarshal([]byte(raw), &e.Snapshot); err != nil {
			return nil, fmt.Errorf("decode retry entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveQueue replaces the stored queue in one transaction.
func (s *SQLiteStore) SaveQueue(ctx context.Context, entries []retryqueue.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save retry queue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM retry_queue`); err != nil {
		return fmt.Errorf("save retry queue: %w", err)
	}
	for _, e := range entries {
		raw, err := json.Marshal(e.Snapshot)
		if err != nil {
			return fmt.Errorf("encode retry entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO retry_queue(enqueued_at, snapshot) VALUES(?, ?)`,
			e.EnqueuedAt.UnixMilli(), string(raw)); err != nil {
			return fmt.Errorf("save retry queue: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save retry queue: %w", err)
	}
	return nil
}

// AcquireLease claims the single lease row. The upsert only overwrites a row
// held by the same owner or one that has expired, so two processes sharing
// the file cannot both succeed.
func (s *SQLiteStore) AcquireLease(ctx context.Context, owner string, now time.Time, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
INSERT INTO cycle_lease(id, owner, expires_at) VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET owner=excluded.owner, expires_at=excluded.expires_at
WHERE cycle_lease.owner = excluded.owner OR cycle_lease.expires_at <= ?`,
		owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("acquire cycle lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire cycle lease: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease deletes the lease row if owner holds it.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, owner string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cycle_lease WHERE owner=?`, owner); err != nil {
		return fmt.Errorf("release cycle lease: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

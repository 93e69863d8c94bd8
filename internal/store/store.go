// Package store persists sessions, settings, run history, and the
// pricing cache in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/askelva/herbarium-batch/internal/common"
)

// HistoryLimit caps the number of retained history entries. Inserting
// past the cap evicts the oldest entries.
const HistoryLimit = 50

// HistoryEntry summarizes one finished batch run.
type HistoryEntry struct {
	ID         string    `json:"id"`
	FinishedAt time.Time `json:"finishedAt"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	TotalCost  *float64  `json:"totalCost,omitempty"`
	Snapshot   []byte    `json:"-"`
}

// Store is the persistence layer. All payloads are opaque JSON blobs
// owned by the caller; the store only keys and orders them.
type Store interface {
	SaveSession(ctx context.Context, snapshot []byte) error
	LoadSession(ctx context.Context) ([]byte, error)
	ClearSession(ctx context.Context) error

	SaveSettings(ctx context.Context, settings []byte) error
	LoadSettings(ctx context.Context) ([]byte, error)

	AddHistory(ctx context.Context, entry HistoryEntry) error
	ListHistory(ctx context.Context) ([]HistoryEntry, error)

	LoadPricing() (raw []byte, fetchedAt time.Time, err error)
	SavePricing(raw []byte) error

	Close() error
}

type sqliteStore struct {
	db  *sql.DB
	log *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS session (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	snapshot BLOB NOT NULL,
	saved_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	payload BLOB NOT NULL,
	saved_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
	id TEXT PRIMARY KEY,
	finished_at TEXT NOT NULL,
	total INTEGER NOT NULL,
	completed INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	total_cost REAL,
	snapshot BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS pricing_cache (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	payload BLOB NOT NULL,
	fetched_at TEXT NOT NULL
);
`

// Open opens (creating if needed) the SQLite database at path and
// applies the schema. Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, common.WrapError(err, "create store directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, common.WrapError(err, "open store")
	}
	// modernc sqlite serializes at the driver level; a single
	// connection avoids SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, common.WrapError(err, "enable WAL")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, common.WrapError(err, "apply store schema")
	}
	logger.Debug("store.opened", "path", path)
	return &sqliteStore{db: db, log: logger}, nil
}

func (s *sqliteStore) SaveSession(ctx context.Context, snapshot []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, snapshot, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, saved_at = excluded.saved_at`,
		snapshot, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return common.WrapError(err, "save session")
	}
	return nil
}

func (s *sqliteStore) LoadSession(ctx context.Context) ([]byte, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM session WHERE id = 1`).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(err, "load session")
	}
	return snapshot, nil
}

func (s *sqliteStore) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return common.WrapError(err, "clear session")
	}
	return nil
}

func (s *sqliteStore) SaveSettings(ctx context.Context, settings []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, payload, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		settings, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return common.WrapError(err, "save settings")
	}
	return nil
}

func (s *sqliteStore) LoadSettings(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM settings WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(err, "load settings")
	}
	return payload, nil
}

func (s *sqliteStore) AddHistory(ctx context.Context, entry HistoryEntry) error {
	if entry.ID == "" {
		return common.NewAppError("STORE_INVALID", "history entry needs an id", common.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin history tx")
	}
	defer func() { _ = tx.Rollback() }()

	var cost any
	if entry.TotalCost != nil {
		cost = *entry.TotalCost
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO history (id, finished_at, total, completed, failed, total_cost, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.FinishedAt.UTC().Format(time.RFC3339Nano),
		entry.Total, entry.Completed, entry.Failed, cost, entry.Snapshot)
	if err != nil {
		return common.WrapError(err, "insert history entry")
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM history WHERE id NOT IN (
			SELECT id FROM history ORDER BY finished_at DESC LIMIT %d)`, HistoryLimit))
	if err != nil {
		return common.WrapError(err, "trim history")
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "commit history tx")
	}
	return nil
}

func (s *sqliteStore) ListHistory(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, finished_at, total, completed, failed, total_cost, snapshot
		FROM history ORDER BY finished_at DESC`)
	if err != nil {
		return nil, common.WrapError(err, "list history")
	}
	defer func() { _ = rows.Close() }()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e          HistoryEntry
			finishedAt string
			cost       sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &finishedAt, &e.Total, &e.Completed, &e.Failed, &cost, &e.Snapshot); err != nil {
			return nil, common.WrapError(err, "scan history entry")
		}
		if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			e.FinishedAt = t
		}
		if cost.Valid {
			e.TotalCost = &cost.Float64
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *sqliteStore) LoadPricing() ([]byte, time.Time, error) {
	var (
		payload []byte
		fetched string
	)
	err := s.db.QueryRow(`SELECT payload, fetched_at FROM pricing_cache WHERE id = 1`).Scan(&payload, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, common.WrapError(err, "load pricing cache")
	}
	t, _ := time.Parse(time.RFC3339Nano, fetched)
	return payload, t, nil
}

func (s *sqliteStore) SavePricing(raw []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO pricing_cache (id, payload, fetched_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		raw, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return common.WrapError(err, "save pricing cache")
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

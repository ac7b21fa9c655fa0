// SPDX-License-Identifier: MIT

package watchstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vidmember/watchtrack/internal/clock"
	"github.com/vidmember/watchtrack/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore keeps events in a SQLite database.
type SqliteStore struct {
	DB  *sql.DB
	clk clock.Clock
}

// NewSqliteStore opens (and migrates) the database at dbPath.
func NewSqliteStore(dbPath string, clk clock.Clock) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SqliteStore{DB: db, clk: clk}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("watchstore: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var current int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS watch_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		host_id TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		start_time REAL NOT NULL,
		end_time REAL NOT NULL,
		duration REAL NOT NULL,
		complete BOOLEAN NOT NULL DEFAULT 0,
		created_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_watch_events_pair ON watch_events(user_id, host_id, seq);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Create(ctx context.Context, ev Event) (Event, error) {
	ev, err := prepare(ev, s.clk)
	if err != nil {
		return Event{}, err
	}
	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO watch_events (event_id, user_id, host_id, path, start_time, end_time, duration, complete, created_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.HostID, ev.Path, ev.StartTime, ev.EndTime, ev.Duration, ev.Complete, ev.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Event{}, fmt.Errorf("watchstore: insert event: %w", err)
	}
	return ev, nil
}

const selectEvents = `SELECT event_id, user_id, host_id, path, start_time, end_time, duration, complete, created_at_ms
	FROM watch_events WHERE user_id = ? AND host_id = ? ORDER BY seq DESC LIMIT ?`

func (s *SqliteStore) Latest(ctx context.Context, userID, hostID string) (*Event, error) {
	ev, err := scanEvent(s.DB.QueryRowContext(ctx, selectEvents, userID, hostID, 1))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("watchstore: latest event: %w", err)
	}
	return &ev, nil
}

func (s *SqliteStore) List(ctx context.Context, userID, hostID string, limit int) ([]Event, error) {
	rows, err := s.DB.QueryContext(ctx, selectEvents, userID, hostID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("watchstore: list events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("watchstore: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SqliteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var ev Event
	var createdMs int64
	err := row.Scan(&ev.ID, &ev.UserID, &ev.HostID, &ev.Path,
		&ev.StartTime, &ev.EndTime, &ev.Duration, &ev.Complete, &createdMs)
	if err != nil {
		return Event{}, err
	}
	ev.CreatedAt = time.UnixMilli(createdMs).UTC()
	return ev, nil
}

// SPDX-License-Identifier: MIT

// Package watchstore persists watch events on the backend and derives resume times
// from them.
package watchstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vidmember/watchtrack/internal/clock"
)

// ResumeCutoff is the fraction of a video past which the next view starts from the
// beginning.
const ResumeCutoff = 0.97

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

var (
	// ErrInvalidEvent is returned by Create for events that cannot be stored.
	ErrInvalidEvent = errors.New("watchstore: invalid event")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("watchstore: closed")
)

// Event is one persisted playback segment.
type Event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	HostID    string    `json:"host_id"`
	Path      string    `json:"path,omitempty"`
	StartTime float64   `json:"start_time"`
	EndTime   float64   `json:"end_time"`
	Duration  float64   `json:"duration"`
	Complete  bool      `json:"complete"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists watch events per (user, video).
type Store interface {
	// Create assigns an id and creation time and stores ev.
	Create(ctx context.Context, ev Event) (Event, error)
	// Latest returns the most recent event for the pair, or nil.
	Latest(ctx context.Context, userID, hostID string) (*Event, error)
	// List returns up to limit events, newest first.
	List(ctx context.Context, userID, hostID string, limit int) ([]Event, error)
	Ping(ctx context.Context) error
	Close() error
}

// SqliteFile is the database file name of the sqlite backend inside DataDir.
const SqliteFile = "watch_events.sqlite"

// Config selects and configures a backend.
type Config struct {
	Backend string // memory, sqlite, redis
	DataDir string
	Redis   RedisConfig
	Clock   clock.Clock
}

// NewStore builds the configured backend. An empty backend means sqlite when a data
// directory is set and memory otherwise.
func NewStore(cfg Config) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "sqlite"
		if cfg.DataDir == "" {
			backend = "memory"
		}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	switch backend {
	case "memory":
		return NewMemoryStore(clk), nil
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, errors.New("watchstore: sqlite backend requires a data dir")
		}
		return NewSqliteStore(filepath.Join(cfg.DataDir, SqliteFile), clk)
	case "redis":
		return NewRedisStore(cfg.Redis, clk)
	default:
		return nil, fmt.Errorf("watchstore: unknown backend %q (supported: memory, sqlite, redis)", cfg.Backend)
	}
}

// ResumeTime applies the resume rule to the latest event: its end time, unless the
// video was finished or watched past ResumeCutoff, in which case 0.
func ResumeTime(latest *Event) float64 {
	if latest == nil || latest.Complete {
		return 0
	}
	if latest.EndTime > ResumeCutoff*latest.Duration {
		return 0
	}
	return latest.EndTime
}

// prepare validates ev and stamps it with an id and creation time.
func prepare(ev Event, clk clock.Clock) (Event, error) {
	ev.HostID = strings.TrimSpace(ev.HostID)
	if ev.HostID == "" {
		return Event{}, fmt.Errorf("%w: host_id is required", ErrInvalidEvent)
	}
	for name, v := range map[string]float64{"start_time": ev.StartTime, "end_time": ev.EndTime, "duration": ev.Duration} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Event{}, fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidEvent, name)
		}
	}
	ev.ID = uuid.NewString()
	ev.CreatedAt = clk.Now().UTC()
	return ev, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

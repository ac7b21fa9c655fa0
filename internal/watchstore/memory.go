// SPDX-License-Identifier: MIT

package watchstore

import (
	"context"
	"sync"

	"github.com/vidmember/watchtrack/internal/clock"
)

// MemoryStore keeps events in process memory.
type MemoryStore struct {
	clk clock.Clock

	mu     sync.RWMutex
	data   map[string][]Event // oldest first
	closed bool
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{clk: clk, data: make(map[string][]Event)}
}

func (s *MemoryStore) Create(_ context.Context, ev Event) (Event, error) {
	ev, err := prepare(ev, s.clk)
	if err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Event{}, ErrClosed
	}
	key := compositeKey(ev.UserID, ev.HostID)
	s.data[key] = append(s.data[key], ev)
	return ev, nil
}

func (s *MemoryStore) Latest(_ context.Context, userID, hostID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	events := s.data[compositeKey(userID, hostID)]
	if len(events) == 0 {
		return nil, nil
	}
	latest := events[len(events)-1]
	return &latest, nil
}

func (s *MemoryStore) List(_ context.Context, userID, hostID string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	events := s.data[compositeKey(userID, hostID)]
	limit = min(clampLimit(limit), len(events))
	out := make([]Event, 0, limit)
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.data = nil
	s.closed = true
	s.mu.Unlock()
	return nil
}

func compositeKey(userID, hostID string) string {
	return userID + "\x00" + hostID
}

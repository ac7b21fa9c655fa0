// SPDX-License-Identifier: MIT

package watchevents

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockServer is a configurable in-process watch-event backend for tests.
type MockServer struct {
	*httptest.Server

	mu       sync.Mutex
	events   []WatchEvent
	headers  []http.Header
	resume   map[string]float64
	status   map[string]int // forced status per operation
	delay    map[string]time.Duration
	received chan WatchEvent
}

// NewMockServer starts a mock backend.
func NewMockServer() *MockServer {
	m := &MockServer{
		resume:   make(map[string]float64),
		status:   make(map[string]int),
		delay:    make(map[string]time.Duration),
		received: make(chan WatchEvent, 1024),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+createPath, m.handleCreate)
	mux.HandleFunc("GET /watch-events/api/watch-events/{host_id}/resume", m.handleResume)

	m.Server = httptest.NewServer(mux)
	return m
}

// SetResume sets the resume time reported for hostID.
func (m *MockServer) SetResume(hostID string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resume[hostID] = seconds
}

// FailWith forces op ("create" or "resume") to answer with status. 0 clears it.
func (m *MockServer) FailWith(op string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == 0 {
		delete(m.status, op)
		return
	}
	m.status[op] = status
}

// SetDelay delays every response of op.
func (m *MockServer) SetDelay(op string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay[op] = d
}

// Events returns the watch events received so far.
func (m *MockServer) Events() []WatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WatchEvent(nil), m.events...)
}

// Headers returns the request headers of every create call.
func (m *MockServer) Headers() []http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]http.Header(nil), m.headers...)
}

// Received delivers each accepted watch event.
func (m *MockServer) Received() <-chan WatchEvent {
	return m.received
}

func (m *MockServer) behaviour(op string) (int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[op], m.delay[op]
}

func (m *MockServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	status, delay := m.behaviour(opCreate)
	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		writeMockJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMockJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	m.mu.Lock()
	ev := WatchEvent{
		ID:        strconv.Itoa(len(m.events) + 1),
		HostID:    req.HostID,
		UserID:    r.Header.Get(UserHeader),
		Path:      req.Path,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Duration:  req.Duration,
		Complete:  req.Complete,
		CreatedAt: &now,
	}
	m.events = append(m.events, ev)
	m.headers = append(m.headers, r.Header.Clone())
	m.mu.Unlock()

	select {
	case m.received <- ev:
	default:
	}
	writeMockJSON(w, http.StatusCreated, ev)
}

func (m *MockServer) handleResume(w http.ResponseWriter, r *http.Request) {
	status, delay := m.behaviour(opResume)
	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		writeMockJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}

	hostID := r.PathValue("host_id")
	m.mu.Lock()
	secs := m.resume[hostID]
	m.mu.Unlock()
	writeMockJSON(w, http.StatusOK, map[string]any{"host_id": hostID, "resume_time": secs})
}

func writeMockJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

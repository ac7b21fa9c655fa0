// SPDX-License-Identifier: MIT

package watchevents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmember/watchtrack/internal/clock"
)

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:    base,
		UserID:     "alice",
		HTTPClient: &http.Client{Timeout: 500 * time.Millisecond},
	})
	require.NoError(t, err)
	return c
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	for _, base := range []string{"", "localhost:8000", "://nope"} {
		_, err := New(Config{BaseURL: base})
		assert.Error(t, err, "base %q", base)
	}
}

func TestCreateWatchEventWireFormat(t *testing.T) {
	var gotBody map[string]any
	var gotHeader http.Header
	var gotMethod, gotPath string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotHeader = r.Method, r.URL.Path, r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"e1","host_id":"dQw4w9WgXcQ","user_id":"alice","path":"/videos/dQw4w9WgXcQ","start_time":12.5,"end_time":40,"duration":212,"complete":false}`))
	}))
	defer s.Close()

	c := newTestClient(t, s.URL+"/")
	created, err := c.CreateWatchEvent(context.Background(), WatchEvent{
		HostID:    "dQw4w9WgXcQ",
		StartTime: 12.5,
		EndTime:   40,
		Duration:  212,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/watch-events/api/watch-events", gotPath)
	assert.Equal(t, "alice", gotHeader.Get(UserHeader))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))

	wantBody := map[string]any{
		"host_id":    "dQw4w9WgXcQ",
		"start_time": 12.5,
		"end_time":   40.0,
		"duration":   212.0,
		"complete":   false,
		"path":       "/videos/dQw4w9WgXcQ",
	}
	if diff := cmp.Diff(wantBody, gotBody); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}

	want := WatchEvent{ID: "e1", HostID: "dQw4w9WgXcQ", UserID: "alice", Path: "/videos/dQw4w9WgXcQ", StartTime: 12.5, EndTime: 40, Duration: 212}
	if diff := cmp.Diff(want, created, cmpopts.IgnoreFields(WatchEvent{}, "CreatedAt")); diff != "" {
		t.Errorf("created event mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateWatchEventAcknowledgementBody(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Watch event recorded successfully"}`))
	}))
	defer s.Close()

	c := newTestClient(t, s.URL)
	ev := WatchEvent{HostID: "abc", EndTime: 3, Duration: 10}
	created, err := c.CreateWatchEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "abc", created.HostID)
	assert.Equal(t, "/videos/abc", created.Path)
}

func TestCreateWatchEventErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":{"error":"Authentication required"}}`, ErrUnauthorized},
		{"bad request", http.StatusBadRequest, `{"error":"bad"}`, ErrRejected},
		{"server error", http.StatusBadGateway, "fail", ErrUpstreamError},
		{"invalid json", http.StatusOK, "{not-json", ErrBadResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer s.Close()

			c := newTestClient(t, s.URL)
			_, err := c.CreateWatchEvent(context.Background(), WatchEvent{HostID: "abc"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var werr *Error
			require.True(t, errors.As(err, &werr))
			assert.Equal(t, opCreate, werr.Operation)
			if tt.status >= 300 {
				assert.Equal(t, tt.status, werr.Status)
			}
		})
	}
}

func TestCircuitBreakerFailsFast(t *testing.T) {
	var (
		calls   atomic.Int32
		healthy atomic.Bool
	)
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer s.Close()

	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c, err := New(Config{
		BaseURL:          s.URL,
		HTTPClient:       s.Client(),
		BreakerThreshold: 2,
		BreakerReset:     30 * time.Second,
		Clock:            clk,
	})
	require.NoError(t, err)

	ctx := context.Background()
	for range 2 {
		_, err := c.CreateWatchEvent(ctx, WatchEvent{HostID: "abc"})
		require.ErrorIs(t, err, ErrUpstreamError)
	}
	_, err = c.CreateWatchEvent(ctx, WatchEvent{HostID: "abc"})
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorContains(t, err, "circuit breaker is open")
	assert.Equal(t, int32(2), calls.Load(), "open breaker skips the request")

	healthy.Store(true)
	clk.Advance(30 * time.Second)
	_, err = c.CreateWatchEvent(ctx, WatchEvent{HostID: "abc", EndTime: 5, Duration: 10})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.FailWith("resume", http.StatusUnauthorized)

	c, err := New(Config{BaseURL: m.URL, HTTPClient: m.Client(), BreakerThreshold: 1})
	require.NoError(t, err)
	for range 3 {
		_, err := c.FetchResumeTime(context.Background(), "abc")
		require.ErrorIs(t, err, ErrUnauthorized)
	}
}

func TestCircuitBreakerIgnoresCancelledCalls(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetResume("abc", 12)

	c, err := New(Config{BaseURL: m.URL, HTTPClient: m.Client(), BreakerThreshold: 1, BreakerReset: time.Minute})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.FetchResumeTime(ctx, "abc")
	require.Error(t, err)

	secs, err := c.FetchResumeTime(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 12.0, secs)
}

func TestFetchResumeTime(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetResume("vid-1", 93.25)

	c := newTestClient(t, m.URL)
	secs, err := c.FetchResumeTime(context.Background(), "vid-1")
	require.NoError(t, err)
	assert.InDelta(t, 93.25, secs, 1e-9)

	secs, err = c.FetchResumeTime(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Zero(t, secs)
}

func TestResumeTimeDefaultsToZeroOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "nope", http.StatusNotFound) }},
		{"unauthorized", func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "auth", http.StatusUnauthorized) }},
		{"server error", func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) }},
		{"invalid json", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("{")) }},
		{"negative", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"resume_time":-4}`)) }},
		{"null", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"resume_time":null}`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := httptest.NewServer(tt.handler)
			defer s.Close()
			c := newTestClient(t, s.URL)
			assert.Zero(t, c.ResumeTime(context.Background(), "vid"))
		})
	}
}

func TestResumeTimeTransportFailure(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := s.URL
	s.Close()

	c := newTestClient(t, base)
	_, err := c.FetchResumeTime(context.Background(), "vid")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Zero(t, c.ResumeTime(context.Background(), "vid"))
}

func TestResumeTimeTimeout(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetDelay(opResume, 300*time.Millisecond)

	c := newTestClient(t, m.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchResumeTime(ctx, "vid")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRequestMetrics(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m.URL)

	before := testutil.ToFloat64(requestsTotal.WithLabelValues(opResume, resultNotFound))
	m.FailWith(opResume, http.StatusNotFound)
	_ = c.ResumeTime(context.Background(), "vid")
	after := testutil.ToFloat64(requestsTotal.WithLabelValues(opResume, resultNotFound))
	assert.Equal(t, before+1, after)
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Sentinel: ErrUpstreamError, Operation: "create", Status: 502, Body: "fail"}
	assert.Equal(t, "create: watchevents: internal error (5xx) (HTTP 502): fail", err.Error())
	assert.True(t, errors.Is(err, ErrUpstreamError))
}

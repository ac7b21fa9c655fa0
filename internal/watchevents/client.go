// SPDX-License-Identifier: MIT

// Package watchevents is the HTTP client for the watch-event backend: it records
// playback segments and asks for the position a viewer should resume at.
package watchevents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vidmember/watchtrack/internal/clock"
	wtlog "github.com/vidmember/watchtrack/internal/log"
	"github.com/vidmember/watchtrack/internal/platform/httpx"
	"github.com/vidmember/watchtrack/internal/resilience"
)

const (
	createPath   = "/watch-events/api/watch-events"
	resumeFormat = "/watch-events/api/watch-events/%s/resume"

	// UserHeader carries the viewer principal to the backend.
	UserHeader = "X-User-ID"

	maxErrorBody = 512
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	UserID  string

	// BreakerThreshold consecutive outages (transport errors, timeouts, 5xx) open
	// a circuit breaker that fails calls fast for BreakerReset. 0 disables it.
	BreakerThreshold int
	BreakerReset     time.Duration
	// Clock drives the breaker; defaults to the wall clock.
	Clock clock.Clock

	// HTTPClient overrides the traced default client (tests).
	HTTPClient *http.Client
}

// Client talks to the watch-event backend.
type Client struct {
	base    string
	user    string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("watchevents: invalid base URL %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpx.NewTracedClient(cfg.Timeout, "watchevents")
	}
	c := &Client{
		base:   base,
		user:   cfg.UserID,
		http:   hc,
		logger: wtlog.WithComponent("watchevents").With().Str(wtlog.FieldBaseURL, base).Logger(),
	}
	if cfg.BreakerThreshold > 0 {
		opts := []resilience.Option{resilience.WithFailurePredicate(isOutage)}
		if cfg.Clock != nil {
			opts = append(opts, resilience.WithClock(cfg.Clock))
		}
		c.breaker = resilience.NewCircuitBreaker("watchevents", cfg.BreakerThreshold, cfg.BreakerReset, opts...)
	}
	return c, nil
}

// CreateWatchEvent records ev. Path defaults to the video's detail route.
func (c *Client) CreateWatchEvent(ctx context.Context, ev WatchEvent) (WatchEvent, error) {
	start := time.Now()
	created, err := c.create(ctx, ev)
	observeRequest(opCreate, err, time.Since(start).Seconds())
	return created, err
}

func (c *Client) create(ctx context.Context, ev WatchEvent) (WatchEvent, error) {
	if ev.Path == "" {
		ev.Path = VideoPath(ev.HostID)
	}
	body, err := json.Marshal(createRequest{
		HostID:    ev.HostID,
		StartTime: ev.StartTime,
		EndTime:   ev.EndTime,
		Duration:  ev.Duration,
		Complete:  ev.Complete,
		Path:      ev.Path,
	})
	if err != nil {
		return WatchEvent{}, fmt.Errorf("watchevents: encode create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+createPath, bytes.NewReader(body))
	if err != nil {
		return WatchEvent{}, fmt.Errorf("watchevents: build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.do(req, opCreate)
	if err != nil {
		return WatchEvent{}, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return WatchEvent{}, &Error{Sentinel: ErrBadResponse, Operation: opCreate, Status: res.StatusCode, Err: err}
	}
	// Older backends answer with a bare acknowledgement; keep what was sent.
	created := ev
	if len(bytes.TrimSpace(raw)) == 0 {
		return created, nil
	}
	var decoded WatchEvent
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return WatchEvent{}, &Error{Sentinel: ErrBadResponse, Operation: opCreate, Status: res.StatusCode, Err: err}
	}
	if decoded.HostID == "" {
		return created, nil
	}
	return decoded, nil
}

// FetchResumeTime returns the stored resume position for hostID.
func (c *Client) FetchResumeTime(ctx context.Context, hostID string) (float64, error) {
	start := time.Now()
	secs, err := c.fetchResume(ctx, hostID)
	observeRequest(opResume, err, time.Since(start).Seconds())
	return secs, err
}

func (c *Client) fetchResume(ctx context.Context, hostID string) (float64, error) {
	u := c.base + fmt.Sprintf(resumeFormat, url.PathEscape(hostID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("watchevents: build resume request: %w", err)
	}

	res, err := c.do(req, opResume)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	var p resumeResponse
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return 0, &Error{Sentinel: ErrBadResponse, Operation: opResume, Status: res.StatusCode, Err: err}
	}
	if p.ResumeTime == nil {
		return 0, nil
	}
	secs := *p.ResumeTime
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return 0, &Error{Sentinel: ErrBadResponse, Operation: opResume, Status: res.StatusCode,
			Err: fmt.Errorf("resume_time out of range: %v", secs)}
	}
	return secs, nil
}

// ResumeTime is FetchResumeTime with every failure mapped to 0 (start from the
// beginning). The cause is logged, never returned.
func (c *Client) ResumeTime(ctx context.Context, hostID string) float64 {
	secs, err := c.FetchResumeTime(ctx, hostID)
	if err != nil {
		l := wtlog.WithContext(ctx, c.logger)
		l.Warn().
			Err(err).
			Str(wtlog.FieldEvent, "watchevents.resume_failed").
			Str(wtlog.FieldVideoID, hostID).
			Msg("resume time unavailable, starting from the beginning")
		return 0
	}
	return secs
}

func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	if c.breaker == nil {
		return c.send(req, op)
	}
	var res *http.Response
	err := c.breaker.Execute(func() error {
		var err error
		res, err = c.send(req, op)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &Error{Sentinel: ErrUpstreamUnavailable, Operation: op, Err: err}
	}
	return res, err
}

func (c *Client) send(req *http.Request, op string) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.Header.Set(UserHeader, c.user)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Sentinel: transportSentinel(req.Context(), err), Operation: op, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		_ = res.Body.Close()
		return nil, &Error{
			Sentinel:  classifyStatus(res.StatusCode),
			Operation: op,
			Status:    res.StatusCode,
			Body:      strings.TrimSpace(string(body)),
		}
	}
	return res, nil
}

// isOutage reports whether err says the backend itself is unhealthy. Calls the
// caller cancelled say nothing about the backend.
func isOutage(err error) bool {
	var we *Error
	if errors.As(err, &we) && errors.Is(we.Err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrUpstreamError) || errors.Is(err, ErrTimeout)
}

func transportSentinel(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrUpstreamUnavailable
}

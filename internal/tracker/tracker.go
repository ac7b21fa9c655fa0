// SPDX-License-Identifier: MIT

// Package tracker records how far a viewer got into a video and resumes playback
// there next time. A Session owns one embedded player: it samples the playback
// position while the player is playing, persists watch events on a fixed cadence and
// whenever playback stops, and applies the stored resume position exactly once.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vidmember/watchtrack/internal/clock"
	wtlog "github.com/vidmember/watchtrack/internal/log"
	"github.com/vidmember/watchtrack/internal/player"
	"github.com/vidmember/watchtrack/internal/watchevents"
)

// ErrEmptyVideoID is returned by Open for a blank video identifier.
var ErrEmptyVideoID = errors.New("tracker: empty video id")

// EventStore is the watch-event backend as seen by a session.
// *watchevents.Client implements it.
type EventStore interface {
	CreateWatchEvent(ctx context.Context, ev watchevents.WatchEvent) (watchevents.WatchEvent, error)
	FetchResumeTime(ctx context.Context, hostID string) (float64, error)
}

// Tracker opens watch sessions.
type Tracker struct {
	cfg    Config
	store  EventStore
	loader player.Loader
	clock  clock.Clock
	logger zerolog.Logger
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock (tests).
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New returns a Tracker. cfg must pass Validate.
func New(cfg Config, store EventStore, loader player.Loader, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || loader == nil {
		return nil, errors.New("tracker: store and loader are required")
	}
	t := &Tracker{
		cfg:    cfg,
		store:  store,
		loader: loader,
		clock:  clock.Real{},
		logger: wtlog.WithComponent("tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Open starts a watch session for videoID: it fetches the resume time, waits up to
// ResumeWait for it, and constructs the player through the loader with the session
// as the player's event sink. The caller must Close the session when the view goes
// away or the video changes.
func (t *Tracker) Open(ctx context.Context, videoID string) (*Session, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, ErrEmptyVideoID
	}

	s := newSession(ctx, t, videoID)
	sessionsActive.Inc()

	resumed := make(chan struct{})
	fetchCtx, cancel := context.WithCancel(s.ctx)
	s.cancelFetch = cancel
	go func() {
		defer close(resumed)
		s.fetchResume(fetchCtx)
	}()

	if t.cfg.ResumeWait > 0 {
		waitDone := make(chan struct{})
		timer := t.clock.AfterFunc(t.cfg.ResumeWait, func() { close(waitDone) })
		select {
		case <-resumed:
		case <-waitDone:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	start := s.startPosition()
	p, err := t.loader.Load(ctx, player.LoadRequest{VideoID: videoID, StartSeconds: start, Events: s})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("tracker: load player for %s: %w", videoID, err)
	}
	s.attachPlayer(p)
	return s, nil
}

func floorSeconds(secs float64) int {
	if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0
	}
	return int(math.Floor(secs))
}

func newSessionID() string {
	return uuid.NewString()
}

// SPDX-License-Identifier: MIT

package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vidmember/watchtrack/internal/clock"
	wtlog "github.com/vidmember/watchtrack/internal/log"
	"github.com/vidmember/watchtrack/internal/player"
	"github.com/vidmember/watchtrack/internal/telemetry"
	"github.com/vidmember/watchtrack/internal/watchevents"
)

// Session tracks playback of one video in one player. Player notifications, timer
// ticks, resume arrival and Close are serialised by mu.
type Session struct {
	id      string
	videoID string
	cfg     Config
	store   EventStore
	clock   clock.Clock
	logger  zerolog.Logger
	ctx     context.Context

	failLog     *rate.Sometimes
	cancelFetch context.CancelFunc
	inflight    sync.WaitGroup

	mu          sync.Mutex
	state       State
	closed      bool
	player      player.Player
	playerReady bool

	resumeKnown  bool
	resumeTime   float64
	sessionStart float64
	seekIssued   bool

	// latest player state reported while still initializing
	pending    player.State
	hasPending bool

	monitoring  bool
	timer       clock.Timer
	timerGen    uint64
	lastTick    time.Time
	accumulated time.Duration

	persisted     bool
	lastPersistAt time.Time
}

func newSession(ctx context.Context, t *Tracker, videoID string) *Session {
	id := newSessionID()
	base := wtlog.ContextWithSessionID(context.WithoutCancel(ctx), id)
	return &Session{
		id:      id,
		videoID: videoID,
		cfg:     t.cfg,
		store:   t.store,
		clock:   t.clock,
		ctx:     base,
		logger: t.logger.With().
			Str(wtlog.FieldSessionID, id).
			Str(wtlog.FieldVideoID, videoID).
			Logger(),
		failLog:     &rate.Sometimes{First: 3, Interval: 30 * time.Second},
		cancelFetch: func() {},
		state:       StateInitializing,
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// VideoID returns the tracked video.
func (s *Session) VideoID() string { return s.videoID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ResumeTime returns the resume position and whether it is known yet.
func (s *Session) ResumeTime() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeTime, s.resumeKnown
}

// Monitoring reports whether the sampling timer is armed.
func (s *Session) Monitoring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitoring
}

func (s *Session) fetchResume(ctx context.Context) {
	secs, err := s.store.FetchResumeTime(ctx, s.videoID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().
				Err(err).
				Str(wtlog.FieldEvent, "tracker.resume_failed").
				Msg("resume time unavailable, starting from the beginning")
		}
		secs = 0
	}
	s.applyResume(secs)
}

// applyResume records the resume time. Only the first value counts.
func (s *Session) applyResume(secs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.resumeKnown {
		return
	}
	if secs < 0 {
		secs = 0
	}
	s.resumeKnown = true
	s.resumeTime = secs
	s.sessionStart = secs
	s.logger.Debug().
		Str(wtlog.FieldEvent, "tracker.resume_known").
		Float64(wtlog.FieldResumeTime, secs).
		Msg("resume time known")
	s.maybeReadyLocked()
}

func (s *Session) startPosition() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resumeKnown {
		return 0
	}
	return floorSeconds(s.resumeTime)
}

func (s *Session) attachPlayer(p player.Player) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		p.Release()
		return
	}
	s.player = p
	s.maybeReadyLocked()
	s.mu.Unlock()
}

// PlayerReady implements player.Events.
func (s *Session) PlayerReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.playerReady {
		return
	}
	s.playerReady = true
	s.logger.Debug().Str(wtlog.FieldEvent, "tracker.player_ready").Msg("player ready")
	s.maybeReadyLocked()
}

// StateChanged implements player.Events.
func (s *Session) StateChanged(ps player.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.state == StateInitializing {
		s.pending, s.hasPending = ps, true
		return
	}
	s.applyPlayerStateLocked(ps)
}

func (s *Session) maybeReadyLocked() {
	if s.state != StateInitializing || !s.playerReady || !s.resumeKnown || s.player == nil {
		return
	}
	s.setStateLocked(StateReady)
	s.maybeSeekLocked()
	if s.hasPending {
		ps := s.pending
		s.hasPending = false
		s.applyPlayerStateLocked(ps)
	}
}

// maybeSeekLocked issues the single corrective seek of the session.
func (s *Session) maybeSeekLocked() {
	if s.seekIssued || !s.playerReady || !s.resumeKnown || s.player == nil || s.resumeTime <= 0 {
		return
	}
	s.seekIssued = true
	s.player.SeekTo(s.resumeTime)
	resumeSeeksTotal.Inc()
	s.logger.Info().
		Str(wtlog.FieldEvent, "tracker.resume_seek").
		Float64(wtlog.FieldResumeTime, s.resumeTime).
		Msg("resuming playback")
}

func (s *Session) applyPlayerStateLocked(ps player.State) {
	from := s.state
	switch ps {
	case player.StatePlaying:
		s.setStateLocked(StatePlaying)
		s.startMonitorLocked()
	case player.StatePaused:
		s.stopMonitorLocked()
		s.setStateLocked(StatePaused)
		if from == StatePlaying || from == StateBuffering {
			s.persistEagerLocked(triggerPause)
		}
	case player.StateEnded:
		s.stopMonitorLocked()
		s.setStateLocked(StateEnded)
		if from != StateEnded {
			s.persistEagerLocked(triggerEnd)
		}
	case player.StateBuffering:
		s.stopMonitorLocked()
		s.setStateLocked(StateBuffering)
	default:
		s.stopMonitorLocked()
		s.setStateLocked(StateReady)
	}
}

func (s *Session) setStateLocked(to State) {
	if s.state == to {
		return
	}
	s.logger.Debug().
		Str(wtlog.FieldEvent, "tracker.state_changed").
		Str(wtlog.FieldOldState, string(s.state)).
		Str(wtlog.FieldNewState, string(to)).
		Msg("session state changed")
	s.state = to
}

func (s *Session) startMonitorLocked() {
	if s.monitoring {
		return
	}
	s.monitoring = true
	s.lastTick = s.clock.Now()
	s.scheduleTickLocked()
}

func (s *Session) scheduleTickLocked() {
	s.timerGen++
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(s.cfg.MonitorInterval, func() { s.tick(gen) })
}

// stopMonitorLocked cancels the pending tick. Bumping the generation also voids a
// tick that already fired and is waiting for mu. Playback since the last tick is
// credited to the accumulator.
func (s *Session) stopMonitorLocked() {
	if s.monitoring {
		now := s.clock.Now()
		s.accumulated += now.Sub(s.lastTick)
		s.lastTick = now
	}
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.monitoring = false
}

func (s *Session) tick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.monitoring || gen != s.timerGen || s.player == nil {
		return
	}
	now := s.clock.Now()
	s.accumulated += now.Sub(s.lastTick)
	s.lastTick = now

	if s.accumulated >= s.cfg.SaveInterval {
		s.persistLocked(triggerInterval)
	}
	s.scheduleTickLocked()
}

// persistEagerLocked persists unless a watch event was already dispatched at this
// clock instant.
func (s *Session) persistEagerLocked(trigger string) {
	if s.persisted && s.lastPersistAt.Equal(s.clock.Now()) {
		return
	}
	s.persistLocked(trigger)
}

// persistLocked snapshots the player and submits a watch event without waiting for
// the backend. The accumulator restarts at dispatch; failures are not retried.
func (s *Session) persistLocked(trigger string) {
	if s.player == nil || !s.playerReady {
		return
	}
	end := s.player.CurrentTime()
	duration := s.player.Duration()
	ev := watchevents.WatchEvent{
		HostID:    s.videoID,
		Path:      watchevents.VideoPath(s.videoID),
		StartTime: s.sessionStart,
		EndTime:   end,
		Duration:  duration,
		Complete:  IsComplete(end, duration, s.cfg.CompleteRatio),
	}

	s.accumulated = 0
	s.persisted = true
	s.lastPersistAt = s.clock.Now()

	s.inflight.Add(1)
	go s.submit(trigger, ev)
}

func (s *Session) submit(trigger string, ev watchevents.WatchEvent) {
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PersistTimeout)
	defer cancel()

	ctx, span := telemetry.StartPersist(ctx, s.id, s.videoID, trigger, ev.EndTime, ev.Complete)
	_, err := s.store.CreateWatchEvent(ctx, ev)
	telemetry.EndPersist(ctx, span, trigger, err)

	if err != nil {
		persistTotal.WithLabelValues(trigger, persistResultFailed).Inc()
		s.failLog.Do(func() {
			s.logger.Warn().
				Err(err).
				Str(wtlog.FieldEvent, "tracker.persist_failed").
				Str(wtlog.FieldTrigger, trigger).
				Float64(wtlog.FieldEndTime, ev.EndTime).
				Msg("watch event not saved")
		})
		return
	}
	persistTotal.WithLabelValues(trigger, persistResultOK).Inc()
	s.logger.Debug().
		Str(wtlog.FieldEvent, "tracker.persisted").
		Str(wtlog.FieldTrigger, trigger).
		Float64(wtlog.FieldStartTime, ev.StartTime).
		Float64(wtlog.FieldEndTime, ev.EndTime).
		Float64(wtlog.FieldDuration, ev.Duration).
		Bool(wtlog.FieldComplete, ev.Complete).
		Msg("watch event saved")
}

// Close tears the session down: the sampling timer is cancelled before Close
// returns, a final watch event is flushed if the player was playing (FlushOnClose),
// and the player is released. No watch event is dispatched after Close returns.
// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	wasPlaying := s.state == StatePlaying
	s.stopMonitorLocked()
	if wasPlaying && s.cfg.FlushOnClose {
		s.persistEagerLocked(triggerClose)
	}
	s.setStateLocked(StateClosed)
	s.closed = true
	p := s.player
	s.player = nil
	cancel := s.cancelFetch
	s.mu.Unlock()

	cancel()
	if p != nil {
		p.Release()
	}
	sessionsActive.Dec()
	s.logger.Debug().Str(wtlog.FieldEvent, "tracker.closed").Msg("session closed")
}

// Wait blocks until every dispatched watch event call has returned. Call it after
// Close.
func (s *Session) Wait() {
	s.inflight.Wait()
}

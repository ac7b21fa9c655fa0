// SPDX-License-Identifier: MIT

package tracker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vidmember/watchtrack/internal/clock"
	"github.com/vidmember/watchtrack/internal/player"
	"github.com/vidmember/watchtrack/internal/watchevents"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStore records watch events and serves a fixed resume time. A non-nil gate
// holds FetchResumeTime until it is closed or the context ends.
type fakeStore struct {
	mu        sync.Mutex
	events    []watchevents.WatchEvent
	resume    float64
	resumeErr error
	createErr error
	gate      chan struct{}
}

func (f *fakeStore) CreateWatchEvent(_ context.Context, ev watchevents.WatchEvent) (watchevents.WatchEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return ev, f.createErr
}

func (f *fakeStore) FetchResumeTime(ctx context.Context, _ string) (float64, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.resume, f.resumeErr
}

// Events returns the recorded events ordered by end time.
func (f *fakeStore) Events() []watchevents.WatchEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]watchevents.WatchEvent(nil), f.events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndTime < out[j].EndTime })
	return out
}

type harness struct {
	clk    *clock.Mock
	store  *fakeStore
	loader *player.SimLoader
	tr     *Tracker
}

func newHarness(t *testing.T, store *fakeStore, mutate func(*Config)) *harness {
	t.Helper()
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	loader := player.NewSimLoader(clk, 600)
	tr, err := New(cfg, store, loader, WithClock(clk))
	require.NoError(t, err)
	return &harness{clk: clk, store: store, loader: loader, tr: tr}
}

// open opens a session and lets the simulated player report ready.
func (h *harness) open(t *testing.T) (*Session, *player.Simulated) {
	t.Helper()
	s, err := h.tr.Open(context.Background(), "abc123")
	require.NoError(t, err)
	h.clk.Advance(0)
	p := h.loader.Last()
	require.NotNil(t, p)
	return s, p
}

func closeAndWait(s *Session) {
	s.Close()
	s.Wait()
}

func endTimes(events []watchevents.WatchEvent) []float64 {
	ends := make([]float64, 0, len(events))
	for _, ev := range events {
		ends = append(ends, ev.EndTime)
	}
	return ends
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MonitorInterval = 0
	_, err := New(cfg, &fakeStore{}, player.NewSimLoader(clock.Real{}, 10))
	require.Error(t, err)

	_, err = New(DefaultConfig(), nil, player.NewSimLoader(clock.Real{}, 10))
	require.Error(t, err)
}

func TestOpenRejectsEmptyVideoID(t *testing.T) {
	h := newHarness(t, &fakeStore{}, nil)
	_, err := h.tr.Open(context.Background(), "  ")
	require.ErrorIs(t, err, ErrEmptyVideoID)
}

func TestOpenStartsPlayerAtResumePosition(t *testing.T) {
	h := newHarness(t, &fakeStore{resume: 42.7}, nil)
	s, p := h.open(t)
	defer closeAndWait(s)

	assert.Equal(t, []int{42}, h.loader.StartPositions())
	assert.Equal(t, StateReady, s.State())
	rt, known := s.ResumeTime()
	assert.True(t, known)
	assert.InDelta(t, 42.7, rt, 1e-9)
	assert.Equal(t, []float64{42.7}, p.Seeks())
}

func TestOpenLoadFailureClosesSession(t *testing.T) {
	h := newHarness(t, &fakeStore{}, nil)
	h.loader.FailWith(player.ErrLoadFailed)

	s, err := h.tr.Open(context.Background(), "abc123")
	require.ErrorIs(t, err, player.ErrLoadFailed)
	assert.Nil(t, s)
	assert.Equal(t, 0, h.clk.Pending())
}

func TestResumeOnceEitherOrder(t *testing.T) {
	t.Run("resume before ready", func(t *testing.T) {
		h := newHarness(t, &fakeStore{resume: 30}, nil)
		s, p := h.open(t)
		defer closeAndWait(s)

		p.Play()
		p.Pause()
		assert.Equal(t, []float64{30}, p.Seeks())
	})

	t.Run("ready before resume", func(t *testing.T) {
		store := &fakeStore{resume: 30, gate: make(chan struct{})}
		h := newHarness(t, store, func(c *Config) { c.ResumeWait = 0 })
		s, p := h.open(t)
		defer closeAndWait(s)

		assert.Equal(t, []int{0}, h.loader.StartPositions())
		assert.Equal(t, StateInitializing, s.State())
		assert.Empty(t, p.Seeks())

		close(store.gate)
		require.Eventually(t, func() bool { return s.State() == StateReady }, time.Second, time.Millisecond)
		assert.Equal(t, []float64{30}, p.Seeks())

		s.PlayerReady()
		s.applyResume(55)
		assert.Equal(t, []float64{30}, p.Seeks())
	})

	t.Run("zero resume never seeks", func(t *testing.T) {
		h := newHarness(t, &fakeStore{}, nil)
		s, p := h.open(t)
		defer closeAndWait(s)

		assert.Equal(t, StateReady, s.State())
		assert.Empty(t, p.Seeks())
	})
}

func TestResumeFetchFailureDefaultsToZero(t *testing.T) {
	for _, err := range []error{watchevents.ErrNotFound, watchevents.ErrUnauthorized, errors.New("boom")} {
		t.Run(err.Error(), func(t *testing.T) {
			h := newHarness(t, &fakeStore{resume: 12, resumeErr: err}, nil)
			s, p := h.open(t)
			defer closeAndWait(s)

			rt, known := s.ResumeTime()
			assert.True(t, known)
			assert.Zero(t, rt)
			assert.Empty(t, p.Seeks())
			assert.Equal(t, StateReady, s.State())
		})
	}
}

func TestPersistCadence(t *testing.T) {
	for _, playing := range []time.Duration{5 * time.Second, 12300 * time.Millisecond, 30 * time.Second} {
		t.Run(playing.String(), func(t *testing.T) {
			store := &fakeStore{}
			h := newHarness(t, store, func(c *Config) { c.FlushOnClose = false })
			s, p := h.open(t)

			p.Play()
			h.clk.Advance(playing)
			closeAndWait(s)

			events := store.Events()
			want := int(playing / (5 * time.Second))
			require.Len(t, events, want)
			for i, ev := range events {
				assert.InDelta(t, float64(i+1)*5, ev.EndTime, 1e-6)
				assert.Zero(t, ev.StartTime)
				assert.Equal(t, "abc123", ev.HostID)
				assert.Equal(t, "/videos/abc123", ev.Path)
				assert.Equal(t, 600.0, ev.Duration)
				assert.False(t, ev.Complete)
			}
		})
	}
}

func TestPausePersistsEagerly(t *testing.T) {
	store := &fakeStore{}
	h := newHarness(t, store, nil)
	s, p := h.open(t)

	p.Play()
	h.clk.Advance(7 * time.Second)
	p.Pause()
	assert.False(t, s.Monitoring())
	assert.Equal(t, 0, h.clk.Pending())
	assert.Equal(t, StatePaused, s.State())

	closeAndWait(s)
	assert.Equal(t, []float64{5, 7}, endTimes(store.Events()))
}

func TestPauseAtThresholdInstantDoesNotDuplicate(t *testing.T) {
	store := &fakeStore{}
	h := newHarness(t, store, nil)
	s, p := h.open(t)

	p.Play()
	h.clk.Advance(5 * time.Second)
	p.Pause()

	closeAndWait(s)
	assert.Equal(t, []float64{5}, endTimes(store.Events()))
}

func TestAccumulatorSpansPauses(t *testing.T) {
	store := &fakeStore{}
	h := newHarness(t, store, func(c *Config) { c.FlushOnClose = false })
	s, p := h.open(t)

	p.Play()
	h.clk.Advance(3 * time.Second)
	p.Buffer()
	h.clk.Advance(10 * time.Second)
	p.Play()
	h.clk.Advance(2 * time.Second)

	closeAndWait(s)
	assert.Equal(t, []float64{5}, endTimes(store.Events()))
}

func TestStallsKeepPartialTickTime(t *testing.T) {
	store := &fakeStore{}
	h := newHarness(t, store, func(c *Config) { c.FlushOnClose = false })
	s, p := h.open(t)

	// 27 stalls, each just short of a tick, add up to 5.13s of playback
	for range 27 {
		p.Play()
		h.clk.Advance(190 * time.Millisecond)
		p.Buffer()
	}
	assert.Empty(t, store.Events())

	p.Play()
	h.clk.Advance(200 * time.Millisecond)

	closeAndWait(s)
	assert.Len(t, store.Events(), 1)
}

func TestBufferingStopsTimerWithoutPersisting(t *testing.T) {
	store := &fakeStore{}
	h := newHarness(t, store, func(c *Config) { c.FlushOnClose = false })
	s, p := h.open(t)

	p.Play()
	h.clk.Advance(time.Second)
	p.Buffer()
	assert.Equal(t, StateBuffering, s.State())
	assert.False(t, s.Monitoring())
	assert.Equal(t, 0, h.clk.Pending())

	closeAndWait(s)
	assert.Empty(t, store.Events())
}

func TestBufferingThenPausePersists(t *testing.T) {
	store := &fakeStore{}
	h := newHarness(t, store, nil)
	s, _ := h.open(t)

	s.StateChanged(player.StatePlaying)
	h.clk.Advance(time.Second)
	s.StateChanged(player.StateBuffering)
	s.StateChanged(player.StatePaused)

	closeAndWait(s)
	assert.Len(t, store.Events(), 1)
}

func TestEndedPersistsCompleteEvent(t *testing.T) {
	store := &fakeStore{resume: 597}
	h := newHarness(t, store, nil)
	s, p := h.open(t)

	p.Play()
	h.clk.Advance(5 * time.Second)
	assert.Equal(t, StateEnded, s.State())
	assert.Equal(t, 0, h.clk.Pending())

	// A repeated Ended notification does not persist again.
	s.StateChanged(player.StateEnded)

	closeAndWait(s)
	events := store.Events()
	require.Len(t, events, 1)
	assert.InDelta(t, 600, events[0].EndTime, 1e-9)
	assert.InDelta(t, 597, events[0].StartTime, 1e-9)
	assert.True(t, events[0].Complete)
}

func TestTimerExclusivity(t *testing.T) {
	h := newHarness(t, &fakeStore{}, func(c *Config) { c.FlushOnClose = false })
	s, _ := h.open(t)
	defer closeAndWait(s)

	s.StateChanged(player.StatePlaying)
	s.StateChanged(player.StatePlaying)
	assert.Equal(t, 1, h.clk.Pending())

	h.clk.Advance(time.Second)
	assert.Equal(t, 1, h.clk.Pending())

	s.StateChanged(player.StatePaused)
	assert.Equal(t, 0, h.clk.Pending())
	s.StateChanged(player.StatePlaying)
	s.StateChanged(player.StateEnded)
	assert.Equal(t, 0, h.clk.Pending())
	s.StateChanged(player.StateCued)
	assert.Equal(t, StateReady, s.State())
}

func TestPlayingBeforeReadyIsDeferred(t *testing.T) {
	store := &fakeStore{resume: 20, gate: make(chan struct{})}
	h := newHarness(t, store, func(c *Config) { c.ResumeWait = 0 })
	s, p := h.open(t)

	p.Play()
	assert.Equal(t, StateInitializing, s.State())
	assert.False(t, s.Monitoring())

	close(store.gate)
	require.Eventually(t, func() bool { return s.State() == StatePlaying }, time.Second, time.Millisecond)
	assert.True(t, s.Monitoring())

	h.clk.Advance(5 * time.Second)
	closeAndWait(s)

	events := store.Events()
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.InDelta(t, 20, ev.StartTime, 1e-9)
	}
}

func TestCloseFlushesWhilePlaying(t *testing.T) {
	store := &fakeStore{}
	h := newHarness(t, store, nil)
	s, p := h.open(t)

	p.Play()
	h.clk.Advance(3 * time.Second)
	closeAndWait(s)

	assert.Equal(t, []float64{3}, endTimes(store.Events()))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, h.clk.Pending())
}

func TestCloseWithoutFlush(t *testing.T) {
	store := &fakeStore{}
	h := newHarness(t, store, func(c *Config) { c.FlushOnClose = false })
	s, p := h.open(t)

	p.Play()
	h.clk.Advance(3 * time.Second)
	closeAndWait(s)
	assert.Empty(t, store.Events())
}

func TestTeardownCancelsPendingTick(t *testing.T) {
	store := &fakeStore{}
	h := newHarness(t, store, func(c *Config) { c.FlushOnClose = false })
	s, p := h.open(t)

	p.Play()
	h.clk.Advance(4900 * time.Millisecond)

	s.mu.Lock()
	gen := s.timerGen
	s.mu.Unlock()

	s.Close()
	s.Close()
	// a tick that fired just before Close and is only now acquiring the lock
	s.tick(gen)
	h.clk.Advance(time.Minute)
	s.StateChanged(player.StatePaused)
	s.Wait()

	assert.Empty(t, store.Events())
	assert.Equal(t, StateClosed, s.State())
}

func TestPersistFailureIsNotRetried(t *testing.T) {
	store := &fakeStore{createErr: watchevents.ErrUpstreamUnavailable}
	h := newHarness(t, store, func(c *Config) { c.FlushOnClose = false })
	s, p := h.open(t)

	p.Play()
	h.clk.Advance(11 * time.Second)
	p.Pause()
	closeAndWait(s)

	assert.Equal(t, []float64{5, 10, 11}, endTimes(store.Events()))
}

func TestIsComplete(t *testing.T) {
	assert.True(t, IsComplete(98, 100, DefaultCompleteRatio))
	assert.False(t, IsComplete(97.9, 100, DefaultCompleteRatio))
	assert.False(t, IsComplete(10, 0, DefaultCompleteRatio))
}

func TestSessionAgainstMockServer(t *testing.T) {
	srv := watchevents.NewMockServer()
	defer srv.Close()
	srv.SetResume("abc123", 12)

	client, err := watchevents.New(watchevents.Config{BaseURL: srv.URL, Timeout: time.Second, UserID: "u-1", HTTPClient: srv.Client()})
	require.NoError(t, err)

	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	loader := player.NewSimLoader(clk, 100)
	tr, err := New(DefaultConfig(), client, loader, WithClock(clk))
	require.NoError(t, err)

	s, err := tr.Open(context.Background(), "abc123")
	require.NoError(t, err)
	clk.Advance(0)
	p := loader.Last()
	assert.Equal(t, []float64{12}, p.Seeks())

	p.Play()
	clk.Advance(6 * time.Second)
	p.Pause()
	closeAndWait(s)

	events := srv.Events()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, "abc123", ev.HostID)
		assert.InDelta(t, 12, ev.StartTime, 1e-9)
		assert.Equal(t, 100.0, ev.Duration)
	}
}

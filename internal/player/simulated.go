// SPDX-License-Identifier: MIT

package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vidmember/watchtrack/internal/clock"
)

// Simulated is a clock-driven player. Its position advances with the clock while
// playing, and it reports Ended when the position reaches the duration.
type Simulated struct {
	clk      clock.Clock
	duration float64
	events   Events

	mu        sync.Mutex
	pos       float64
	anchor    time.Time
	playing   bool
	released  bool
	seeks     []float64
	endTimer  clock.Timer
	readyCh   chan struct{}
	readyOnce sync.Once
}

// NewSimulated returns a stopped player positioned at start seconds.
func NewSimulated(clk clock.Clock, duration float64, start float64, events Events) *Simulated {
	if start > duration {
		start = duration
	}
	return &Simulated{
		clk:      clk,
		duration: duration,
		events:   events,
		pos:      start,
		readyCh:  make(chan struct{}),
	}
}

// Ready is closed once the player signalled PlayerReady.
func (p *Simulated) Ready() <-chan struct{} {
	return p.readyCh
}

func (p *Simulated) signalReady() {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		return
	}
	p.readyOnce.Do(func() { close(p.readyCh) })
	if p.events != nil {
		p.events.PlayerReady()
	}
}

// Play starts or resumes playback. Playing an ended video restarts it from 0.
func (p *Simulated) Play() {
	p.mu.Lock()
	if p.released || p.playing {
		p.mu.Unlock()
		return
	}
	if p.pos >= p.duration {
		p.pos = 0
	}
	p.playing = true
	p.anchor = p.clk.Now()
	p.armEndLocked()
	p.mu.Unlock()

	p.emit(StatePlaying)
}

// Pause stops playback at the current position.
func (p *Simulated) Pause() {
	p.mu.Lock()
	if p.released || !p.playing {
		p.mu.Unlock()
		return
	}
	p.pos = p.positionLocked()
	p.playing = false
	p.stopEndLocked()
	p.mu.Unlock()

	p.emit(StatePaused)
}

// Buffer simulates a stall: playback halts and Buffering is reported.
func (p *Simulated) Buffer() {
	p.mu.Lock()
	if p.released || !p.playing {
		p.mu.Unlock()
		return
	}
	p.pos = p.positionLocked()
	p.playing = false
	p.stopEndLocked()
	p.mu.Unlock()

	p.emit(StateBuffering)
}

func (p *Simulated) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Simulated) Duration() float64 {
	return p.duration
}

func (p *Simulated) SeekTo(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if seconds > p.duration {
		seconds = p.duration
	}
	p.seeks = append(p.seeks, seconds)
	p.pos = seconds
	if p.playing {
		p.anchor = p.clk.Now()
		p.stopEndLocked()
		p.armEndLocked()
	}
}

// Seeks returns the positions passed to SeekTo, in call order.
func (p *Simulated) Seeks() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.seeks...)
}

func (p *Simulated) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.pos = p.positionLocked()
	p.playing = false
	p.released = true
	p.stopEndLocked()
}

func (p *Simulated) positionLocked() float64 {
	if !p.playing {
		return p.pos
	}
	pos := p.pos + p.clk.Now().Sub(p.anchor).Seconds()
	if pos > p.duration {
		pos = p.duration
	}
	return pos
}

func (p *Simulated) armEndLocked() {
	remaining := time.Duration((p.duration - p.pos) * float64(time.Second))
	p.endTimer = p.clk.AfterFunc(remaining, p.finish)
}

func (p *Simulated) stopEndLocked() {
	if p.endTimer != nil {
		p.endTimer.Stop()
		p.endTimer = nil
	}
}

func (p *Simulated) finish() {
	p.mu.Lock()
	if p.released || !p.playing {
		p.mu.Unlock()
		return
	}
	p.pos = p.duration
	p.playing = false
	p.endTimer = nil
	p.mu.Unlock()

	p.emit(StateEnded)
}

// emit must be called without p.mu held: sinks call back into the player.
func (p *Simulated) emit(s State) {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released || p.events == nil {
		return
	}
	p.events.StateChanged(s)
}

// SimLoader builds Simulated players and reports them ready after ReadyDelay.
type SimLoader struct {
	Clock      clock.Clock
	Duration   float64
	ReadyDelay time.Duration

	mu      sync.Mutex
	loaded  []*Simulated
	starts  []int
	failErr error
}

// ErrLoadFailed is returned by a SimLoader configured with FailWith.
var ErrLoadFailed = errors.New("player: load failed")

// NewSimLoader returns a loader for videos of the given length in seconds.
func NewSimLoader(clk clock.Clock, duration float64) *SimLoader {
	return &SimLoader{Clock: clk, Duration: duration}
}

// FailWith makes subsequent loads fail with err.
func (l *SimLoader) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
}

func (l *SimLoader) Load(ctx context.Context, req LoadRequest) (Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	if l.failErr != nil {
		err := l.failErr
		l.mu.Unlock()
		return nil, err
	}
	p := NewSimulated(l.Clock, l.Duration, float64(req.StartSeconds), req.Events)
	l.loaded = append(l.loaded, p)
	l.starts = append(l.starts, req.StartSeconds)
	l.mu.Unlock()

	l.Clock.AfterFunc(l.ReadyDelay, p.signalReady)
	return p, nil
}

// Last returns the most recently loaded player, or nil.
func (l *SimLoader) Last() *Simulated {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.loaded) == 0 {
		return nil
	}
	return l.loaded[len(l.loaded)-1]
}

// StartPositions returns the StartSeconds of every load request, in order.
func (l *SimLoader) StartPositions() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.starts...)
}

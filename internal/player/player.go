// SPDX-License-Identifier: MIT

// Package player defines the embedded media player a watch session observes.
// Implementations wrap a concrete player (an iframe bridge, a local media engine, or
// the Simulated player in this package) behind a small polling-friendly interface.
package player

import (
	"context"
	"fmt"
)

// State is a player state as reported through state-change notifications.
// Values match the YouTube iframe API codes.
type State int

const (
	StateUnstarted State = -1
	StateEnded     State = 0
	StatePlaying   State = 1
	StatePaused    State = 2
	StateBuffering State = 3
	StateCued      State = 5
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateEnded:
		return "ended"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateCued:
		return "cued"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState maps a numeric player code to a State.
func ParseState(code int) (State, error) {
	switch s := State(code); s {
	case StateUnstarted, StateEnded, StatePlaying, StatePaused, StateBuffering, StateCued:
		return s, nil
	default:
		return 0, fmt.Errorf("unknown player state code %d", code)
	}
}

// Player is a loaded player instance for one video.
type Player interface {
	// CurrentTime returns the playback position in seconds.
	CurrentTime() float64

	// Duration returns the total length of the loaded video in seconds, or 0 if unknown.
	Duration() float64

	// SeekTo moves the playback position to seconds.
	SeekTo(seconds float64)

	// Release detaches the player and frees its resources. Further calls are no-ops.
	Release()
}

// Events receives notifications from one player instance. Each loaded player gets its
// own sink, so several players never share callback state.
type Events interface {
	// PlayerReady is called once when the player finished initialising.
	PlayerReady()

	// StateChanged is called on every reported state transition.
	StateChanged(State)
}

// LoadRequest describes the player to construct.
type LoadRequest struct {
	VideoID      string
	StartSeconds int
	Events       Events
}

// Loader constructs players. Load must not call back into Events synchronously.
type Loader interface {
	Load(ctx context.Context, req LoadRequest) (Player, error)
}

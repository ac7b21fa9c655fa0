// SPDX-License-Identifier: MIT

package tracker

// State is the lifecycle state of a watch session.
type State string

const (
	// StateInitializing waits for both the resume time and the player's ready signal.
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StatePlaying      State = "playing"
	StatePaused       State = "paused"
	StateBuffering    State = "buffering"
	StateEnded        State = "ended"
	// StateClosed is terminal.
	StateClosed State = "closed"
)

// persist triggers
const (
	triggerInterval = "interval"
	triggerPause    = "pause"
	triggerEnd      = "end"
	triggerClose    = "close"
)

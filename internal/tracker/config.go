// SPDX-License-Identifier: MIT

package tracker

import (
	"fmt"
	"time"
)

const (
	DefaultMonitorInterval = 200 * time.Millisecond
	DefaultSaveInterval    = 5 * time.Second
	DefaultCompleteRatio   = 0.98
	DefaultResumeWait      = 250 * time.Millisecond
	DefaultPersistTimeout  = 10 * time.Second
)

// Config holds the sampling and persistence policy of watch sessions.
type Config struct {
	// MonitorInterval is the period between playback-position samples while playing.
	MonitorInterval time.Duration
	// SaveInterval is the accumulated playing time that triggers a watch event.
	SaveInterval time.Duration
	// CompleteRatio is the fraction of the duration at which a video counts as watched.
	CompleteRatio float64
	// ResumeWait bounds how long Open waits for the resume time before constructing
	// the player. Zero constructs the player immediately.
	ResumeWait time.Duration
	// PersistTimeout bounds each watch-event call.
	PersistTimeout time.Duration
	// FlushOnClose persists a final watch event when a session is closed while playing.
	FlushOnClose bool
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		MonitorInterval: DefaultMonitorInterval,
		SaveInterval:    DefaultSaveInterval,
		CompleteRatio:   DefaultCompleteRatio,
		ResumeWait:      DefaultResumeWait,
		PersistTimeout:  DefaultPersistTimeout,
		FlushOnClose:    true,
	}
}

// Validate rejects policies the session loop cannot run with.
func (c Config) Validate() error {
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("tracker: monitor interval must be positive, got %v", c.MonitorInterval)
	}
	if c.SaveInterval < c.MonitorInterval {
		return fmt.Errorf("tracker: save interval %v shorter than monitor interval %v", c.SaveInterval, c.MonitorInterval)
	}
	if c.CompleteRatio <= 0 || c.CompleteRatio > 1 {
		return fmt.Errorf("tracker: complete ratio must be in (0,1], got %v", c.CompleteRatio)
	}
	if c.ResumeWait < 0 {
		return fmt.Errorf("tracker: resume wait must not be negative, got %v", c.ResumeWait)
	}
	if c.PersistTimeout <= 0 {
		return fmt.Errorf("tracker: persist timeout must be positive, got %v", c.PersistTimeout)
	}
	return nil
}

// IsComplete reports whether endTime counts as having watched the whole video.
// An unknown (non-positive) duration is never complete.
func IsComplete(endTime, duration, ratio float64) bool {
	if duration <= 0 {
		return false
	}
	return endTime >= ratio*duration
}

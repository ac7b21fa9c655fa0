// SPDX-License-Identifier: MIT

package watchevents

import (
	"net/url"
	"time"
)

// WatchEvent is one persisted playback segment of a video.
type WatchEvent struct {
	ID        string     `json:"id,omitempty"`
	HostID    string     `json:"host_id"`
	UserID    string     `json:"user_id,omitempty"`
	Path      string     `json:"path"`
	StartTime float64    `json:"start_time"`
	EndTime   float64    `json:"end_time"`
	Duration  float64    `json:"duration"`
	Complete  bool       `json:"complete"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// createRequest is the POST body accepted by the backend.
type createRequest struct {
	HostID    string  `json:"host_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Duration  float64 `json:"duration"`
	Complete  bool    `json:"complete"`
	Path      string  `json:"path"`
}

type resumeResponse struct {
	HostID     string   `json:"host_id"`
	ResumeTime *float64 `json:"resume_time"`
}

// VideoPath is the client route of a video detail view, recorded with each event.
func VideoPath(hostID string) string {
	return "/videos/" + url.PathEscape(hostID)
}

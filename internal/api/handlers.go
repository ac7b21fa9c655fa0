// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	wtlog "github.com/vidmember/watchtrack/internal/log"
	"github.com/vidmember/watchtrack/internal/watchstore"
)

const maxCreateBody = 64 << 10

type createRequest struct {
	HostID    string  `json:"host_id"`
	Path      string  `json:"path"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Duration  float64 `json:"duration"`
	Complete  bool    `json:"complete"`
}

type resumeResponse struct {
	HostID     string  `json:"host_id"`
	ResumeTime float64 `json:"resume_time"`
}

type listResponse struct {
	HostID string             `json:"host_id"`
	Events []watchstore.Event `json:"events"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	user := wtlog.UserIDFromContext(r.Context())
	created, err := s.store.Create(r.Context(), watchstore.Event{
		UserID:    user,
		HostID:    req.HostID,
		Path:      req.Path,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Duration:  req.Duration,
		Complete:  req.Complete,
	})
	if err != nil {
		writeStoreError(w, r, "create", err)
		return
	}

	logger := wtlog.WithContext(r.Context(), s.logger)
	logger.Debug().
		Str(wtlog.FieldEvent, "api.watch_event_created").
		Str(wtlog.FieldEventID, created.ID).
		Str(wtlog.FieldVideoID, created.HostID).
		Float64(wtlog.FieldEndTime, created.EndTime).
		Bool(wtlog.FieldComplete, created.Complete).
		Msg("watch event created")
	writeJSON(w, http.StatusCreated, created)
}

// bindHostID decodes the {host_id} path segment.
func bindHostID(r *http.Request) (string, error) {
	var hostID string
	err := runtime.BindStyledParameterWithOptions("simple", "host_id", chi.URLParam(r, "host_id"), &hostID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	return hostID, err
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	hostID, err := bindHostID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid host_id")
		return
	}
	latest, err := s.store.Latest(r.Context(), wtlog.UserIDFromContext(r.Context()), hostID)
	if err != nil {
		writeStoreError(w, r, "latest", err)
		return
	}
	writeJSON(w, http.StatusOK, resumeResponse{HostID: hostID, ResumeTime: watchstore.ResumeTime(latest)})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	hostID, err := bindHostID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid host_id")
		return
	}
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil || (limit != nil && *limit <= 0) {
		writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}
	events, err := s.store.List(r.Context(), wtlog.UserIDFromContext(r.Context()), hostID, n)
	if err != nil {
		writeStoreError(w, r, "list", err)
		return
	}
	if events == nil {
		events = []watchstore.Event{}
	}
	writeJSON(w, http.StatusOK, listResponse{HostID: hostID, Events: events})
}

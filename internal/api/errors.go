// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	wtlog "github.com/vidmember/watchtrack/internal/log"
	"github.com/vidmember/watchtrack/internal/watchstore"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": msg}.
func writeError(w http.ResponseWriter, _ *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeStoreError maps a store failure to a response and logs server-side faults.
func writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, watchstore.ErrInvalidEvent) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	logger := wtlog.WithComponentFromContext(r.Context(), "api")
	logger.Error().
		Err(err).
		Str(wtlog.FieldEvent, "api.store_failed").
		Str("op", op).
		Msg("watch event store failed")
	if errors.Is(err, watchstore.ErrClosed) {
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

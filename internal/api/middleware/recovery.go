// SPDX-License-Identifier: MIT

package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"

	wtlog "github.com/vidmember/watchtrack/internal/log"
)

// Recoverer turns a handler panic into a logged 500 JSON response.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)

			logger := wtlog.WithComponentFromContext(r.Context(), "panic-recovery")
			reqID := wtlog.RequestIDFromContext(r.Context())
			if reqID == "" {
				// mounted outside RequestID: the id only reached the response header
				if reqID = w.Header().Get(HeaderRequestID); reqID != "" {
					logger = logger.With().Str(wtlog.FieldRequestID, reqID).Logger()
				}
			}
			logger.Error().
				Str(wtlog.FieldEvent, "panic.recovered").
				Str("method", r.Method).
				Str(wtlog.FieldPath, r.URL.Path).
				Interface("panic_value", rec).
				Str("stack_trace", string(buf[:n])).
				Msg("panic recovered in HTTP handler")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":      "internal server error",
				"request_id": reqID,
			})
		}()

		next.ServeHTTP(w, r)
	})
}

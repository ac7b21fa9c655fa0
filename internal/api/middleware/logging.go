// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	wtlog "github.com/vidmember/watchtrack/internal/log"
)

// AccessLog writes one structured line per request.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		logger := wtlog.WithComponentFromContext(r.Context(), "http")
		ev := logger.Info()
		if sw.status >= http.StatusInternalServerError {
			ev = logger.Error()
		} else if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
			ev = logger.Debug()
		}
		ev.Str(wtlog.FieldEvent, "http.request").
			Str("method", r.Method).
			Str(wtlog.FieldPath, r.URL.Path).
			Int(wtlog.FieldStatus, sw.status).
			Int("bytes", sw.bytes).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

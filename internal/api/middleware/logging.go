// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
)

// AccessLog writes one line per request. Health and metrics probes log at
// debug level.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			logger := log.WithContext(r.Context(), log.WithComponent("api"))
			ev := logger.Info()
			switch {
			case sw.statusCode >= http.StatusInternalServerError:
				ev = logger.Error()
			case r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics":
				ev = logger.Debug()
			}
			ev.Str("method", r.Method).
				Str(log.FieldPath, r.URL.Path).
				Int("status", sw.statusCode).
				Int("bytes", sw.bytesWritten).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("http request")
		})
	}
}

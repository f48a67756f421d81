package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logging writes one structured line per request. Server errors log at
// error level, client errors at warn.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		level := zerolog.InfoLevel
		switch {
		case status >= 500:
			level = zerolog.ErrorLevel
		case status >= 400:
			level = zerolog.WarnLevel
		}

		event := log.WithLevel(level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("ip", ClientIP(r))

		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			event = event.Str("request_id", reqID)
		}
		if ua := r.Header.Get("User-Agent"); ua != "" {
			event = event.Str("user_agent", ua)
		}

		event.Msg("http_request")
	})
}

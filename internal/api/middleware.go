package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/tracing"
)

// Recover converts a handler panic into a 500 instead of killing the
// connection mid-response.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error(log.CatServer, "handler panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()))
				http.Error(w, `{"error":"Internal server error","code":"panic"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestLog logs one line per request at debug level. Traced requests
// carry their trace id so the line can be matched to the span.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if traceID := tracing.TraceIDFromContext(r.Context()); traceID != "" {
			fields = append(fields, "trace_id", traceID)
		}
		log.Debug(log.CatServer, "request", fields...)
	})
}

// statusWriter records the response code for the request log. Unwrap keeps
// http.ResponseController (and the websocket hijack) working through it.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

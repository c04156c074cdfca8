package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// RequestLogger returns a chi-compatible middleware that logs each request
// with method, path, status, duration_ms, response size and request id.
// Query strings are not logged; they carry upstream URLs and credentials.
// Handlers that abort with a panic are logged at warn level before the panic
// continues up the stack.
func RequestLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				attrs := []any{
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", wrap.status),
					slog.Int("duration_ms", int(time.Since(start).Milliseconds())),
					slog.Int64("size", wrap.size),
					slog.String("request_id", middleware.GetReqID(r.Context())),
				}
				if p := recover(); p != nil {
					log.Warn("request aborted", append(attrs, slog.Any("reason", p))...)
					panic(p)
				}
				log.Info("request", attrs...)
			}()
			next.ServeHTTP(wrap, r)
		})
	}
}

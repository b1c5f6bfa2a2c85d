package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/internal/telemetry"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestContext attaches a LogContext to every request. A client-supplied
// X-Request-ID is kept, otherwise a UUID is generated; the id is echoed
// back in the response.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := logger.WithContext(r.Context(), logger.NewLogContext(requestID, clientIP(r)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Tracing opens a server span per request when tracing is enabled.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !telemetry.IsEnabled() {
			next.ServeHTTP(w, r)
			return
		}
		ctx, span := telemetry.StartSpan(r.Context(), "http "+r.Method)
		defer span.End()
		telemetry.SetAttributes(ctx, telemetry.ClientIP(clientIP(r)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs each completed request. Health probes log at DEBUG.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		args := []any{
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, logger.Since(start),
		}
		if isHealthPath(r.URL.Path) {
			logger.DebugCtx(r.Context(), "API request completed", args...)
		} else {
			logger.InfoCtx(r.Context(), "API request completed", args...)
		}
	})
}

func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// clientIP prefers the address set by chi's RealIP middleware.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

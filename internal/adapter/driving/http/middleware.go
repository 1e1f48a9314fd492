package httphandler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// MiddlewareConfig configures the cross-cutting request handling.
type MiddlewareConfig struct {
	// APIToken enables bearer authentication when non-empty. The health
	// endpoint stays open.
	APIToken string
	// MaxConcurrentUploads bounds in-flight PUT requests; zero disables
	// the limit.
	MaxConcurrentUploads int64
}

func applyMiddleware(next http.Handler, logger *slog.Logger, cfg MiddlewareConfig) http.Handler {
	h := next
	if cfg.MaxConcurrentUploads > 0 {
		h = uploadLimitMiddleware(semaphore.NewWeighted(cfg.MaxConcurrentUploads), h)
	}
	if cfg.APIToken != "" {
		h = authMiddleware(cfg.APIToken, h)
	}
	// Recovery innermost of the outer pair so panics are caught before logging.
	h = recoveryMiddleware(logger, h)
	return loggingMiddleware(logger, h)
}

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code and delegates to the embedded writer.
func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

// recoveryMiddleware recovers from panics in HTTP handlers, logs the error,
// and returns a 500 response.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("panic recovered",
					"panic", v,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires "Authorization: Bearer <token>" on every route
// except the health check. Tokens are compared in constant time.
func authMiddleware(token string, next http.Handler) http.Handler {
	want := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}

		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="storageio"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// uploadLimitMiddleware sheds PUT requests beyond the semaphore's capacity
// with 503 and a Retry-After hint instead of queueing them.
func uploadLimitMiddleware(sem *semaphore.Weighted, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			next.ServeHTTP(w, r)
			return
		}
		if !sem.TryAcquire(1) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "too many concurrent uploads")
			return
		}
		defer sem.Release(1)
		next.ServeHTTP(w, r)
	})
}

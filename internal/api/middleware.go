package api

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"predictapi/internal/logging"
	"predictapi/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

// requestIDMiddleware reuses the caller's X-Request-ID when it is acceptable,
// otherwise generates one. The ID is echoed back and carried by the
// request-scoped logger.
func requestIDMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(logging.WithRequest(logger, r, id)))
	})
}

// validRequestID accepts non-empty IDs of at most maxRequestIDLen visible ASCII
// characters.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '!' || id[i] > '~' {
			return false
		}
	}
	return true
}

// metricsMiddleware records exactly one latency observation and one request
// count per request. The deferred record also runs while a panic unwinds, in
// which case the request is counted as a 500.
func metricsMiddleware(m *metrics.HTTPMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		completed := false

		defer func() {
			status := recorder.status
			if !completed {
				status = http.StatusInternalServerError
			}
			m.ObserveRequest(r.Method, r.URL.Path, status, time.Since(start))
		}()

		next.ServeHTTP(recorder, r)
		completed = true
	})
}

// recoverMiddleware turns a handler panic into a JSON 500. http.ErrAbortHandler
// is re-raised so net/http can abort the connection.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			zerolog.Ctx(r.Context()).Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Str("path", r.URL.Path).
				Msg("handler panic")
			if !recorder.wroteHeader {
				writeError(recorder, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(recorder, r)
	})
}

// loggingMiddleware writes one access log line per request, including requests
// whose handler aborted with a panic.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		completed := false

		defer func() {
			status := recorder.status
			if !completed {
				status = http.StatusInternalServerError
			}
			zerolog.Ctx(r.Context()).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("dur", time.Since(start)).
				Msg("http request")
		}()

		next.ServeHTTP(recorder, r)
		completed = true
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Package middleware carries the cross-cutting HTTP wrappers: request
// logging, in-flight accounting and idempotent replay for mutating POSTs.
package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/observability"
	"github.com/itskum47/shopfloor/server/store"
)

// IdempotencyHeader carries the client-chosen replay key.
const IdempotencyHeader = "X-Idempotency-Key"

// idempotencyTTL bounds how long a recorded response is replayable.
const idempotencyTTL = 24 * time.Hour

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// RequestLogger logs one line per request through zap and tracks the
// in-flight gauge.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			observability.HTTPInFlight.Inc()
			defer observability.HTTPInFlight.Dec()

			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.statusCode),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// storedResponse is the replayable shape kept in the cache.
type storedResponse struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

// Idempotency replays a prior response when the client resends the same
// X-Idempotency-Key. With no cache configured it is a pass-through.
func Idempotency(cache *store.LiveCache, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" || cache == nil {
				next.ServeHTTP(w, r)
				return
			}

			if raw, err := cache.GetIdempotencyRecord(r.Context(), key); err == nil && raw != "" {
				var stored storedResponse
				if err := json.Unmarshal([]byte(raw), &stored); err == nil {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(stored.StatusCode)
					w.Write(stored.Body)
					return
				}
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			raw, err := json.Marshal(storedResponse{StatusCode: rec.statusCode, Body: rec.body.Bytes()})
			if err != nil {
				return
			}
			if _, err := cache.SetIdempotencyRecordNX(r.Context(), key, string(raw), idempotencyTTL); err != nil {
				logger.Warn("idempotency record write failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/dverma2339/kubepilot/control_plane/heal"
	"github.com/dverma2339/kubepilot/control_plane/idempotency"
	"github.com/dverma2339/kubepilot/control_plane/notify"
	"github.com/dverma2339/kubepilot/control_plane/observability"
	"github.com/dverma2339/kubepilot/control_plane/store"
	"github.com/dverma2339/kubepilot/control_plane/version"
)

type API struct {
	store    store.Store
	versions *version.Tracker
	healer   *heal.Engine
	notifier notify.Notifier

	wsHub *EventsHub

	idempotency idempotency.Store

	adminKey []byte

	// Storm Protection
	pollLimiter *rate.Limiter
	ackLimiter  *rate.Limiter
}

func NewAPI(s store.Store, versions *version.Tracker, healer *heal.Engine, notifier notify.Notifier, hub *EventsHub, idempotencyStore idempotency.Store, adminKey string) *API {
	return &API{
		store:       s,
		versions:    versions,
		healer:      healer,
		notifier:    notifier,
		wsHub:       hub,
		idempotency: idempotencyStore,
		adminKey:    []byte(adminKey),
		// Allow 200 polls/sec fleet-wide, burst 400
		pollLimiter: rate.NewLimiter(rate.Limit(200), 400),
		// Allow 100 acks/sec, burst 200
		ackLimiter: rate.NewLimiter(rate.Limit(100), 200),
	}
}

// Wrapper for capturing response
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}

		if resp, found := a.idempotency.Get(r.Context(), key); found {
			for k, v := range resp.Headers {
				for _, val := range v {
					w.Header().Add(k, val)
				}
			}
			w.WriteHeader(resp.StatusCode)
			w.Write(resp.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		a.idempotency.Set(r.Context(), key, idempotency.Response{
			StatusCode: rec.statusCode,
			Body:       rec.body,
			Headers:    rec.Header(),
		})
	}
}

// writeStormError writes a 429 response with jittered Retry-After
func (a *API) writeStormError(w http.ResponseWriter, endpoint string) {
	observability.APIRateLimited.WithLabelValues(endpoint).Inc()

	// Jitter: 1s base + 0-1000ms random
	retryAfter := 1000 + rand.Intn(1000)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter/1000))
	http.Error(w, "Too Many Requests (Storm Protection Active)", http.StatusTooManyRequests)
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

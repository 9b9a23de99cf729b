package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/dverma2339/kubepilot/control_plane/keystore"
	"github.com/dverma2339/kubepilot/control_plane/observability"
	"github.com/dverma2339/kubepilot/control_plane/ratelimit"
)

// AgentKeyHeader is the HTTP header agents present their credential in.
const AgentKeyHeader = "agent-key"

// AgentAuthMiddleware authenticates polling agents by their issued key and
// applies the per-credential sliding-window rate limit. On success the
// resolved credential and its cluster id are injected into the context.
func AgentAuthMiddleware(resolver *keystore.Resolver, limiter ratelimit.Limiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(AgentKeyHeader)
			if rawKey == "" {
				writeJSONError(w, http.StatusUnauthorized, "Missing agent-key header")
				return
			}

			key, err := resolver.Resolve(r.Context(), rawKey)
			if err != nil {
				if errors.Is(err, keystore.ErrUnauthenticated) {
					writeJSONError(w, http.StatusUnauthorized, "Invalid agent key")
					return
				}
				log.Printf("[AGENT-AUTH] key resolution failed: %v", err)
				writeJSONError(w, http.StatusInternalServerError, "Internal error")
				return
			}

			decision, err := limiter.Allow(r.Context(), key.KeyID, limit, window)
			if err != nil {
				// Limiter backend outage must not take down the poll path.
				log.Printf("[AGENT-AUTH] rate limiter error for key %s: %v", key.KeyID, err)
			} else if !decision.Allowed {
				observability.APIRateLimited.WithLabelValues(r.URL.Path).Inc()
				// Jitter keeps a throttled fleet from re-synchronizing.
				retryAfter := int(window.Seconds()) + rand.Intn(10)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"success":        false,
					"error":          "Rate limit exceeded",
					"limit":          decision.Limit,
					"window_seconds": int(decision.Window.Seconds()),
				})
				return
			}

			ctx := context.WithValue(r.Context(), ClusterKey, key.ClusterID)
			ctx = context.WithValue(ctx, AgentKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

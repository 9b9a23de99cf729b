package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dverma2339/kubepilot/control_plane/coordination"
	"github.com/dverma2339/kubepilot/control_plane/heal"
	"github.com/dverma2339/kubepilot/control_plane/idempotency"
	"github.com/dverma2339/kubepilot/control_plane/keystore"
	"github.com/dverma2339/kubepilot/control_plane/middleware"
	"github.com/dverma2339/kubepilot/control_plane/notify"
	"github.com/dverma2339/kubepilot/control_plane/ratelimit"
	"github.com/dverma2339/kubepilot/control_plane/store"
	"github.com/dverma2339/kubepilot/control_plane/version"
)

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("[CONFIG] Ignoring invalid %s=%q, using %d", name, v, fallback)
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("[CONFIG] Ignoring invalid %s=%q, using %v", name, v, fallback)
	}
	return fallback
}

func main() {
	ctx := context.Background()

	// Storage: Postgres when DATABASE_URL is set, in-memory otherwise.
	var s store.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		log.Println("Connected to Postgres for durable storage")
		s = pg
	} else {
		log.Println("DATABASE_URL not set. Using In-Memory store (Ephemeral, single-node only).")
		s = store.NewMemoryStore()
	}

	// Rate limiting + idempotency: shared Redis when available, otherwise
	// per-process.
	var limiter ratelimit.Limiter
	var idemStore idempotency.Store
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rl, err := ratelimit.NewRedisLimiter(redisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", redisAddr, err)
		}
		log.Printf("Connected to Redis at %s for rate limiting and idempotency", redisAddr)
		limiter = rl
		idemStore = idempotency.NewRedisStore(rl.Client())
	} else {
		log.Println("REDIS_ADDR not set. Using In-Memory rate limiter and idempotency store.")
		limiter = ratelimit.NewSlidingWindowLimiter()
		idemStore = idempotency.NewMemoryStore()
	}

	// Agent poll policy
	pollLimit := envInt("POLL_RATE_LIMIT", 10)
	pollWindow := envDuration("POLL_RATE_WINDOW", 60*time.Second)

	resolver := keystore.NewResolver(s)
	resolver.DisableFallback = os.Getenv("KEYSTORE_DISABLE_PLAINTEXT_FALLBACK") == "true"

	// Notification fan-out: process log + WebSocket listeners.
	hub := NewEventsHub()
	go hub.Run(ctx)
	notifier := notify.Multi{notify.NewLogNotifier(), hub}

	versions := version.NewTracker(s)
	healer := heal.NewEngine(s, notifier)

	// Background workers
	offlineThreshold := envDuration("CLUSTER_OFFLINE_THRESHOLD", 5*time.Minute)
	monitor := coordination.NewClusterMonitor(s, 30*time.Second, offlineThreshold)
	monitor.Start(ctx)

	ackTimeout := envDuration("COMMAND_ACK_TIMEOUT", 15*time.Minute)
	janitor := coordination.NewCommandJanitor(s, time.Minute, ackTimeout, 3)
	janitor.Start(ctx)

	if sweepInterval := envDuration("AUTOHEAL_SWEEP_INTERVAL", 0); sweepInterval > 0 {
		go runSweepLoop(ctx, healer, sweepInterval)
	}

	adminKey := os.Getenv("ADMIN_KEY")
	if adminKey == "" {
		log.Println("WARNING: ADMIN_KEY not set. Version publishing is disabled.")
	}

	api := NewAPI(s, versions, healer, notifier, hub, idemStore, adminKey)

	agentAuth := middleware.AgentAuthMiddleware(resolver, limiter, pollLimit, pollWindow)

	// Agent protocol
	http.Handle("/agent/commands", agentAuth(http.HandlerFunc(api.handlePollCommands)))
	http.Handle("/agent/commands/ack", agentAuth(http.HandlerFunc(api.withIdempotency(api.handleAckCommand))))
	http.Handle("/agent/version", agentAuth(http.HandlerFunc(api.handleReportVersion)))

	// Operator surface
	http.Handle("/api/autoheal/remediate", middleware.AuthMiddleware(http.HandlerFunc(api.withIdempotency(api.handleRemediate))))
	http.Handle("/api/autoheal/sweep", middleware.AuthMiddleware(middleware.RequireRole("admin", http.HandlerFunc(api.handleSweep))))
	http.Handle("/api/keys", middleware.AuthMiddleware(http.HandlerFunc(api.handleGenerateKey)))
	http.Handle("/api/events/stream", middleware.AuthMiddleware(http.HandlerFunc(api.handleEventsStream)))

	// Deploy pipeline (admin-key header, not JWT)
	http.HandleFunc("/admin/versions", api.handlePublishVersion)

	http.HandleFunc("/health", api.handleHealth)
	http.Handle("/metrics", promhttp.Handler())

	// Startup Banner
	fmt.Println("==================================================")
	fmt.Println("  KUBEPILOT CONTROL PLANE")
	fmt.Println("==================================================")
	fmt.Printf("Poll Policy:        %d req / %v per key\n", pollLimit, pollWindow)
	fmt.Printf("Ack Timeout:        %v (max 3 deliveries)\n", ackTimeout)
	fmt.Printf("Offline Threshold:  %v\n", offlineThreshold)
	fmt.Printf("Plaintext Fallback: %v\n", !resolver.DisableFallback)
	fmt.Println("==================================================")

	log.Println("KubePilot Control Plane listening on :8080")

	// Wrap all routes with CORS middleware for dashboard access
	handler := middleware.CORSMiddleware(http.DefaultServeMux)

	log.Fatal(http.ListenAndServe(":8080", handler))
}

// runSweepLoop periodically remediates the whole fleet.
func runSweepLoop(ctx context.Context, healer *heal.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Starting Auto-Heal Sweep Loop (Interval: %v)", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep, err := healer.Sweep(ctx)
			if err != nil {
				log.Printf("Sweep failed: %v", err)
				continue
			}
			log.Printf("Sweep done in %v: %d cluster(s), %d acted, %d skipped, %d error(s)",
				sweep.Duration.Round(time.Millisecond), sweep.Clusters, sweep.Acted, sweep.Skipped, sweep.Errors)
		}
	}
}

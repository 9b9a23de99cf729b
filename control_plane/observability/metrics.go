package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AgentPolls tracks agent poll requests by outcome.
	AgentPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubepilot_agent_polls_total",
		Help: "Agent poll requests by outcome (delivered, empty, unauthenticated, rate_limited, error)",
	}, []string{"outcome"})

	// APIRateLimited tracks requests rejected by rate limiting.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubepilot_api_rate_limited_total",
		Help: "API requests rejected by rate limiter",
	}, []string{"endpoint"})

	// KeystoreLookups tracks credential resolution by path.
	KeystoreLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubepilot_keystore_lookups_total",
		Help: "Agent key lookups by resolution path (hash, plaintext, miss)",
	}, []string{"path"})

	// KeystoreFallbackHits is the migration cutover metric: when this counter
	// stays flat, every issued key has been backfilled and the plaintext
	// fallback can be disabled.
	KeystoreFallbackHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubepilot_keystore_plaintext_fallback_total",
		Help: "Successful authentications via the legacy plaintext fallback",
	})

	// CommandsEnqueued tracks commands created by producer.
	CommandsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubepilot_commands_enqueued_total",
		Help: "Commands enqueued by source (autoheal, admin, approval, update)",
	}, []string{"source"})

	// CommandsDelivered tracks pending->sent transitions.
	CommandsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubepilot_commands_delivered_total",
		Help: "Commands delivered to polling agents",
	})

	// CommandsAcked tracks terminal acknowledgments by status.
	CommandsAcked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubepilot_commands_acked_total",
		Help: "Command acknowledgments by terminal status",
	}, []string{"status"})

	// CommandsRequeued tracks sent-but-unacked commands reverted to pending.
	CommandsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubepilot_commands_requeued_total",
		Help: "Stale sent commands reverted to pending by the janitor",
	})

	// CommandsExpired tracks commands failed after exhausting redeliveries.
	CommandsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubepilot_commands_expired_total",
		Help: "Commands failed after exhausting redelivery attempts",
	})

	// HealRuns tracks remediation engine invocations by result.
	HealRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubepilot_heal_runs_total",
		Help: "Auto-heal runs by result (acted, skipped, empty, error)",
	}, []string{"result"})

	// HealActions tracks individual remediation attempts.
	HealActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubepilot_heal_actions_total",
		Help: "Auto-heal actions by trigger category and outcome",
	}, []string{"trigger", "outcome"})

	// HealSweepDuration tracks fleet-wide sweep duration.
	HealSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kubepilot_heal_sweep_duration_seconds",
		Help:    "Duration of fleet-wide remediation sweeps",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~100s
	})

	// ConnectedClusters tracks clusters seen within the liveness threshold.
	ConnectedClusters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kubepilot_connected_clusters",
		Help: "Clusters whose agents reported within the liveness threshold",
	})

	// ClustersBehind tracks clusters running an outdated agent build.
	ClustersBehind = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kubepilot_clusters_behind",
		Help: "Clusters whose reported agent version is behind latest",
	})

	// VersionPublishes tracks catalog publishes.
	VersionPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubepilot_version_publishes_total",
		Help: "Agent version catalog publishes",
	})

	// NotificationFailures tracks best-effort notification delivery errors.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubepilot_notification_failures_total",
		Help: "Failed notification deliveries (best-effort, never blocking)",
	}, []string{"sink"})

	// RedisLatency tracks Redis operation roundtrip latency.
	RedisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kubepilot_redis_roundtrip_latency_seconds",
		Help:    "Redis operation latency (shared rate limiter health)",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	})
)

package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all Store implementations. Handlers map these to
// HTTP status codes; everything else is a storage failure (500).
var (
	ErrNotFound  = errors.New("store: not found")
	ErrForbidden = errors.New("store: resource belongs to a different cluster")
	ErrConflict  = errors.New("store: conflict")
)

// Remediation ties together the dependent writes of one auto-heal attempt:
// enqueue the derived command and flip the trigger record to resolved/mitigated.
// Implementations must apply both or neither.
type Remediation struct {
	Command     *Command
	TriggerType string // TriggerAnomaly | TriggerThreat
	TriggerID   string
	ActionTaken string
}

// Store defines the methods required for a permanent storage backend.
// Get* methods return (nil, nil) when the row does not exist, except where a
// sentinel error is documented.
type Store interface {
	// Cluster Operations
	UpsertCluster(ctx context.Context, c *Cluster) error
	GetCluster(ctx context.Context, clusterID string) (*Cluster, error)
	ListClusters(ctx context.Context) ([]*Cluster, error)
	// TouchCluster records a successful agent contact: last-seen plus a flip
	// back to "healthy" if the monitor had marked the cluster offline.
	TouchCluster(ctx context.Context, clusterID string, seenAt time.Time) error
	// UpdateClusterVersion persists the agent-reported version together with
	// the update-availability flags derived from the catalog.
	UpdateClusterVersion(ctx context.Context, clusterID string, version string, updateAvailable bool, updateNotes string) error
	UpdateClusterStatus(ctx context.Context, clusterID string, status string) error

	// Agent Key Operations
	CreateAgentKey(ctx context.Context, k *AgentKey) error
	GetAgentKeyByHash(ctx context.Context, hash string) (*AgentKey, error)
	// GetAgentKeyByPlaintext is the legacy lookup path for keys issued before
	// hashing existed. It only matches rows whose hash is still empty.
	GetAgentKeyByPlaintext(ctx context.Context, raw string) (*AgentKey, error)
	// BackfillAgentKeyHash writes the computed hash onto a legacy row and
	// clears the stored plaintext.
	BackfillAgentKeyHash(ctx context.Context, keyID string, hash string) error
	TouchAgentKey(ctx context.Context, keyID string, usedAt time.Time) error

	// Command Queue Operations
	CreateCommand(ctx context.Context, cmd *Command) error
	// DeliverPendingCommands atomically selects all pending commands for the
	// cluster (oldest first) and flips them to "sent". Two concurrent calls
	// for the same cluster must never return the same command.
	DeliverPendingCommands(ctx context.Context, clusterID string, now time.Time) ([]*Command, error)
	// AckCommand records a terminal status. Returns ErrNotFound for an unknown
	// command id and ErrForbidden when the command belongs to another cluster.
	AckCommand(ctx context.Context, clusterID string, commandID string, status string, result string, now time.Time) error
	GetCommand(ctx context.Context, commandID string) (*Command, error)
	ListCommands(ctx context.Context, clusterID string, limit int) ([]*Command, error)
	// RequeueStaleCommands reverts "sent" commands whose delivery was never
	// acknowledged before cutoff. Commands past maxDeliveries are failed
	// instead. Returns (requeued, expired).
	RequeueStaleCommands(ctx context.Context, cutoff time.Time, maxDeliveries int) (int, int, error)

	// Anomaly / Threat Operations
	CreateAnomaly(ctx context.Context, a *Anomaly) error
	CreateThreat(ctx context.Context, th *SecurityThreat) error
	// ListOpenAnomalies returns up to limit unresolved anomalies, newest first.
	ListOpenAnomalies(ctx context.Context, clusterID string, limit int) ([]*Anomaly, error)
	ListOpenThreats(ctx context.Context, clusterID string, limit int) ([]*SecurityThreat, error)
	GetAnomaly(ctx context.Context, anomalyID string) (*Anomaly, error)
	GetThreat(ctx context.Context, threatID string) (*SecurityThreat, error)

	// ApplyRemediation atomically enqueues the command and marks the trigger
	// record resolved (anomaly) or mitigated (threat) with auto_heal_applied
	// set. Both writes or neither.
	ApplyRemediation(ctx context.Context, r *Remediation) error

	// Settings Operations
	GetAutoHealSettings(ctx context.Context, clusterID string) (*AutoHealSettings, error)
	UpsertAutoHealSettings(ctx context.Context, s *AutoHealSettings) error

	// Action Log Operations
	CreateActionLog(ctx context.Context, l *AutoHealActionLog) error
	// FinishActionLog is the single terminal-status update on an audit row.
	FinishActionLog(ctx context.Context, logID string, status string, errMsg string, finishedAt time.Time) error
	ListActionLogs(ctx context.Context, clusterID string, limit int) ([]*AutoHealActionLog, error)

	// Version Catalog Operations
	GetLatestAgentVersion(ctx context.Context) (*AgentVersion, error)
	// PublishAgentVersion clears is_latest on every other row and upserts the
	// new one in a single transaction, preserving the single-latest invariant.
	PublishAgentVersion(ctx context.Context, v *AgentVersion) error
	ListAgentVersions(ctx context.Context) ([]*AgentVersion, error)
}

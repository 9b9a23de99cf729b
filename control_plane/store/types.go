package store

import (
	"fmt"
	"time"
)

// Cluster represents a registered Kubernetes cluster whose agent polls us.
type Cluster struct {
	ClusterID       string    `json:"cluster_id" db:"cluster_id"`
	OwnerID         string    `json:"owner_id" db:"owner_id"`
	Name            string    `json:"name" db:"name"`
	Status          string    `json:"status" db:"status"` // "healthy", "degraded", "offline"
	AgentVersion    string    `json:"agent_version" db:"agent_version"`
	UpdateAvailable bool      `json:"update_available" db:"update_available"`
	UpdateNotes     string    `json:"update_notes" db:"update_notes"`
	LastSeenAt      time.Time `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// AgentKey is the credential an agent presents on every poll.
// KeyHash is the SHA-256 digest of the issued key. PlaintextKey is only
// populated on rows issued before hashing existed; it is backfilled to a hash
// on first successful use and never written again.
type AgentKey struct {
	KeyID        string     `json:"key_id" db:"key_id"`
	ClusterID    string     `json:"cluster_id" db:"cluster_id"`
	Name         string     `json:"name" db:"name"`
	KeyHash      string     `json:"-" db:"key_hash"`
	PlaintextKey string     `json:"-" db:"plaintext_key"`
	Active       bool       `json:"active" db:"active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at" db:"last_used_at"`
}

// Command statuses. Transitions are monotonic:
// pending -> sent -> {completed, failed}.
const (
	CommandPending   = "pending"
	CommandSent      = "sent"
	CommandCompleted = "completed"
	CommandFailed    = "failed"
)

// Bounds on the opaque parameter payload of a command.
const (
	MaxCommandParams     = 32
	MaxCommandParamBytes = 4096
)

// Command is a unit of work addressed to one cluster's agent.
type Command struct {
	CommandID     string            `json:"command_id" db:"command_id"`
	ClusterID     string            `json:"cluster_id" db:"cluster_id"`
	Type          string            `json:"type" db:"type"`
	Params        map[string]string `json:"params" db:"params"` // JSONB in Postgres
	Status        string            `json:"status" db:"status"`
	Source        string            `json:"source" db:"source"` // "autoheal", "admin", "approval", "update"
	Result        string            `json:"result,omitempty" db:"result"`
	DeliveryCount int               `json:"delivery_count" db:"delivery_count"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	ExecutedAt    *time.Time        `json:"executed_at,omitempty" db:"executed_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// ValidateParams bounds the opaque parameter payload so one misbehaving
// producer cannot bloat the queue.
func (c *Command) ValidateParams() error {
	if len(c.Params) > MaxCommandParams {
		return fmt.Errorf("command has %d params, max %d", len(c.Params), MaxCommandParams)
	}
	total := 0
	for k, v := range c.Params {
		total += len(k) + len(v)
	}
	if total > MaxCommandParamBytes {
		return fmt.Errorf("command params total %d bytes, max %d", total, MaxCommandParamBytes)
	}
	return nil
}

// Severity levels, ordered low < medium < high < critical.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Anomaly is a detected problem record produced by the detection subsystem.
type Anomaly struct {
	AnomalyID       string            `json:"anomaly_id" db:"anomaly_id"`
	ClusterID       string            `json:"cluster_id" db:"cluster_id"`
	Type            string            `json:"type" db:"type"` // e.g. "crash_loop_backoff"
	Severity        string            `json:"severity" db:"severity"`
	Description     string            `json:"description" db:"description"`
	Metadata        map[string]string `json:"metadata" db:"metadata"` // namespace, pod, deployment...
	Resolved        bool              `json:"resolved" db:"resolved"`
	AutoHealApplied bool              `json:"auto_heal_applied" db:"auto_heal_applied"`
	ActionTaken     string            `json:"action_taken,omitempty" db:"action_taken"`
	DetectedAt      time.Time         `json:"detected_at" db:"detected_at"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
}

// SecurityThreat mirrors Anomaly for the security detection pipeline.
type SecurityThreat struct {
	ThreatID        string            `json:"threat_id" db:"threat_id"`
	ClusterID       string            `json:"cluster_id" db:"cluster_id"`
	Type            string            `json:"type" db:"type"` // e.g. "missing_network_policy"
	Severity        string            `json:"severity" db:"severity"`
	Description     string            `json:"description" db:"description"`
	Metadata        map[string]string `json:"metadata" db:"metadata"`
	Mitigated       bool              `json:"mitigated" db:"mitigated"`
	AutoHealApplied bool              `json:"auto_heal_applied" db:"auto_heal_applied"`
	ActionTaken     string            `json:"action_taken,omitempty" db:"action_taken"`
	DetectedAt      time.Time         `json:"detected_at" db:"detected_at"`
	MitigatedAt     *time.Time        `json:"mitigated_at,omitempty" db:"mitigated_at"`
}

// AutoHealSettings is the per-cluster remediation policy. Owned by the user,
// read-only to the control plane.
type AutoHealSettings struct {
	ClusterID         string    `json:"cluster_id" db:"cluster_id"`
	Enabled           bool      `json:"enabled" db:"enabled"`
	SeverityThreshold string    `json:"severity_threshold" db:"severity_threshold"`
	AutoApplyAnomaly  bool      `json:"auto_apply_anomalies" db:"auto_apply_anomalies"`
	AutoApplyThreat   bool      `json:"auto_apply_threats" db:"auto_apply_threats"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Action log statuses.
const (
	ActionExecuting = "executing"
	ActionCompleted = "completed"
	ActionFailed    = "failed"
)

// Trigger categories for action logs.
const (
	TriggerAnomaly = "anomaly"
	TriggerThreat  = "security_threat"
)

// AutoHealActionLog is the audit record for one remediation attempt.
// Append-only except for the single terminal status update.
type AutoHealActionLog struct {
	LogID       string            `json:"log_id" db:"log_id"`
	ClusterID   string            `json:"cluster_id" db:"cluster_id"`
	TriggerType string            `json:"trigger_type" db:"trigger_type"` // anomaly | security_threat
	TriggerID   string            `json:"trigger_id" db:"trigger_id"`
	Action      string            `json:"action" db:"action"`
	Params      map[string]string `json:"params" db:"params"`
	Status      string            `json:"status" db:"status"` // executing | completed | failed
	Error       string            `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty" db:"finished_at"`
}

// AgentVersion is one row in the published version catalog.
// Invariant: at most one row has IsLatest = true.
type AgentVersion struct {
	Version      string    `json:"version" db:"version"`
	IsLatest     bool      `json:"is_latest" db:"is_latest"`
	ReleaseType  string    `json:"release_type" db:"release_type"` // "stable", "beta", "hotfix"
	IsRequired   bool      `json:"is_required" db:"is_required"`
	ReleaseNotes string    `json:"release_notes" db:"release_notes"`
	PublishedAt  time.Time `json:"published_at" db:"published_at"`
}

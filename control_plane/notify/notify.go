package notify

import (
	"context"
	"time"
)

// Event is a human-readable notification emitted by the control plane.
type Event struct {
	ID        string    `json:"id"`
	ClusterID string    `json:"cluster_id"`
	Topic     string    `json:"topic"` // e.g. "autoheal.summary", "version.published"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"` // "info", "warning", "error"
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers events to a sink. Delivery is best-effort: callers log
// and swallow errors, they never roll back state on a failed notification.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
	Close() error
}

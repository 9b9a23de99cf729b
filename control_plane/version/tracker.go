package version

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dverma2339/kubepilot/control_plane/observability"
	"github.com/dverma2339/kubepilot/control_plane/store"
)

// UpdateCommandType is the command enqueued for out-of-date agents.
const UpdateCommandType = "agent_update"

// Report is the answer handed back to a reporting agent.
type Report struct {
	CurrentVersion  string `json:"current_version"`
	LatestVersion   string `json:"latest_version"`
	UpdateAvailable bool   `json:"update_available"`
	IsRequired      bool   `json:"is_required"`
	ReleaseNotes    string `json:"release_notes,omitempty"`
}

// Tracker records agent-reported versions and owns the published catalog.
type Tracker struct {
	store store.Store
}

// NewTracker creates a Tracker backed by s.
func NewTracker(s store.Store) *Tracker {
	return &Tracker{store: s}
}

// ReportVersion records the reporting agent's version and last-seen time and
// compares it against the latest catalog row. An unparsable reported version
// is never flagged as needing an update.
func (t *Tracker) ReportVersion(ctx context.Context, clusterID string, reported string) (*Report, error) {
	if err := t.store.TouchCluster(ctx, clusterID, time.Now()); err != nil {
		return nil, fmt.Errorf("version: touch cluster: %w", err)
	}

	report := &Report{CurrentVersion: reported}

	latest, err := t.store.GetLatestAgentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("version: load catalog: %w", err)
	}
	if latest == nil {
		// Nothing published yet; just record what the agent runs.
		if err := t.store.UpdateClusterVersion(ctx, clusterID, reported, false, ""); err != nil {
			return nil, err
		}
		return report, nil
	}

	report.LatestVersion = latest.Version

	behind := false
	if cmp, err := Compare(reported, latest.Version); err == nil && cmp < 0 {
		behind = true
	}

	notes := ""
	if behind {
		notes = latest.ReleaseNotes
		report.UpdateAvailable = true
		report.IsRequired = latest.IsRequired
		report.ReleaseNotes = latest.ReleaseNotes
	}
	if err := t.store.UpdateClusterVersion(ctx, clusterID, reported, behind, notes); err != nil {
		return nil, err
	}
	return report, nil
}

// Publish validates and records a new catalog entry, clearing is_latest on
// every other row (the store does clear-then-set transactionally).
func (t *Tracker) Publish(ctx context.Context, v *store.AgentVersion) error {
	if !IsValid(v.Version) {
		return fmt.Errorf("version: invalid version string %q, want v?MAJOR.MINOR.PATCH", v.Version)
	}
	if v.ReleaseType == "" {
		v.ReleaseType = "stable"
	}
	if err := t.store.PublishAgentVersion(ctx, v); err != nil {
		return err
	}
	observability.VersionPublishes.Inc()
	return nil
}

// PropagateUpdates enqueues one update command for every cluster whose
// reported version is behind latest. Clusters with unknown versions are
// skipped. Returns the number of commands enqueued.
func (t *Tracker) PropagateUpdates(ctx context.Context) (int, error) {
	latest, err := t.store.GetLatestAgentVersion(ctx)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, nil
	}

	clusters, err := t.store.ListClusters(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	behind := 0
	for _, c := range clusters {
		cmp, err := Compare(c.AgentVersion, latest.Version)
		if err != nil || cmp >= 0 {
			continue
		}
		behind++
		cmd := &store.Command{
			CommandID: uuid.NewString(),
			ClusterID: c.ClusterID,
			Type:      UpdateCommandType,
			Source:    "update",
			Params: map[string]string{
				"target_version": latest.Version,
				"release_type":   latest.ReleaseType,
				"required":       fmt.Sprintf("%t", latest.IsRequired),
			},
		}
		if err := t.store.CreateCommand(ctx, cmd); err != nil {
			// Keep fanning out; one cluster's failure should not stop the rest.
			log.Printf("[VERSION] Failed to enqueue update for cluster %s: %v", c.ClusterID, err)
			continue
		}
		observability.CommandsEnqueued.WithLabelValues("update").Inc()
		enqueued++
	}
	observability.ClustersBehind.Set(float64(behind))
	return enqueued, nil
}

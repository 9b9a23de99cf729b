package version

import (
	"context"
	"testing"

	"github.com/dverma2339/kubepilot/control_plane/store"
)

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"v1.2.3", "v1.3.0", -1},
		{"v1.3.0", "v1.2.3", 1},
		{"2", "2.0.0", 0},
		{"v2.0.0", "2", 0},
		{"1.0.0", "1.0.0", 0},
		{"v0.9.9", "v1.0.0", -1},
		{"v1.10.0", "v1.9.0", 1},
	}
	for _, c := range cases {
		got, err := Compare(c.a, c.b)
		if err != nil {
			t.Errorf("Compare(%q,%q) failed: %v", c.a, c.b, err)
			continue
		}
		if got != c.want {
			t.Errorf("Compare(%q,%q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareUnparsable(t *testing.T) {
	if _, err := Compare("unknown", "v1.0.0"); err == nil {
		t.Error("Expected error for unparsable version")
	}
}

func TestIsValid(t *testing.T) {
	for _, good := range []string{"v1.2.3", "1.2.3", "v10.0.1"} {
		if !IsValid(good) {
			t.Errorf("IsValid(%q) = false, want true", good)
		}
	}
	for _, bad := range []string{"1.2", "v1", "unknown", "", "v1.2.3-beta"} {
		if IsValid(bad) {
			t.Errorf("IsValid(%q) = true, want false", bad)
		}
	}
}

func seedCluster(t *testing.T, s *store.MemoryStore, id, version string) {
	t.Helper()
	err := s.UpsertCluster(context.Background(), &store.Cluster{
		ClusterID:    id,
		OwnerID:      "user-1",
		Name:         id,
		Status:       "healthy",
		AgentVersion: version,
	})
	if err != nil {
		t.Fatalf("seed cluster: %v", err)
	}
}

func TestReportVersionBehindLatest(t *testing.T) {
	s := store.NewMemoryStore()
	tracker := NewTracker(s)
	ctx := context.Background()

	seedCluster(t, s, "cluster-1", "")
	tracker.Publish(ctx, &store.AgentVersion{Version: "v1.3.0", ReleaseNotes: "fixes", IsRequired: true})

	report, err := tracker.ReportVersion(ctx, "cluster-1", "v1.2.3")
	if err != nil {
		t.Fatalf("ReportVersion failed: %v", err)
	}
	if !report.UpdateAvailable {
		t.Error("Expected update_available for v1.2.3 vs v1.3.0")
	}
	if !report.IsRequired {
		t.Error("Expected is_required to follow the catalog row")
	}
	if report.ReleaseNotes != "fixes" {
		t.Errorf("Expected release notes propagated, got %q", report.ReleaseNotes)
	}

	c, _ := s.GetCluster(ctx, "cluster-1")
	if !c.UpdateAvailable || c.AgentVersion != "v1.2.3" {
		t.Errorf("Cluster row not updated: %+v", c)
	}
}

func TestReportVersionUpToDate(t *testing.T) {
	s := store.NewMemoryStore()
	tracker := NewTracker(s)
	ctx := context.Background()

	seedCluster(t, s, "cluster-1", "v1.2.0")
	tracker.Publish(ctx, &store.AgentVersion{Version: "v1.3.0"})

	report, err := tracker.ReportVersion(ctx, "cluster-1", "v1.3.0")
	if err != nil {
		t.Fatalf("ReportVersion failed: %v", err)
	}
	if report.UpdateAvailable {
		t.Error("Up-to-date agent must not be flagged")
	}

	c, _ := s.GetCluster(ctx, "cluster-1")
	if c.UpdateAvailable || c.UpdateNotes != "" {
		t.Error("Update flags must be cleared for up-to-date agents")
	}
}

// An unparsable reported version is recorded but never flagged out of date.
func TestReportVersionUnknown(t *testing.T) {
	s := store.NewMemoryStore()
	tracker := NewTracker(s)
	ctx := context.Background()

	seedCluster(t, s, "cluster-1", "")
	tracker.Publish(ctx, &store.AgentVersion{Version: "v1.0.0"})

	report, err := tracker.ReportVersion(ctx, "cluster-1", "unknown")
	if err != nil {
		t.Fatalf("ReportVersion failed: %v", err)
	}
	if report.UpdateAvailable {
		t.Error("Unparsable version must never trigger update_available")
	}
}

// Publishing v2.0.0 after v1.9.0 leaves exactly one row latest.
func TestPublishSingleLatest(t *testing.T) {
	s := store.NewMemoryStore()
	tracker := NewTracker(s)
	ctx := context.Background()

	if err := tracker.Publish(ctx, &store.AgentVersion{Version: "v1.9.0"}); err != nil {
		t.Fatalf("publish v1.9.0: %v", err)
	}
	if err := tracker.Publish(ctx, &store.AgentVersion{Version: "v2.0.0"}); err != nil {
		t.Fatalf("publish v2.0.0: %v", err)
	}

	versions, _ := s.ListAgentVersions(ctx)
	latestCount := 0
	for _, v := range versions {
		if v.IsLatest {
			latestCount++
			if v.Version != "v2.0.0" {
				t.Errorf("Expected v2.0.0 latest, got %s", v.Version)
			}
		}
	}
	if latestCount != 1 {
		t.Errorf("Expected exactly one latest row, got %d", latestCount)
	}
}

func TestPublishRejectsBadFormat(t *testing.T) {
	tracker := NewTracker(store.NewMemoryStore())
	for _, bad := range []string{"banana", "1.2", ""} {
		if err := tracker.Publish(context.Background(), &store.AgentVersion{Version: bad}); err == nil {
			t.Errorf("Publish(%q) should fail", bad)
		}
	}
}

func TestPropagateUpdates(t *testing.T) {
	s := store.NewMemoryStore()
	tracker := NewTracker(s)
	ctx := context.Background()

	seedCluster(t, s, "behind", "v1.0.0")
	seedCluster(t, s, "current", "v2.0.0")
	seedCluster(t, s, "unknown", "unknown")
	tracker.Publish(ctx, &store.AgentVersion{Version: "v2.0.0"})

	n, err := tracker.PropagateUpdates(ctx)
	if err != nil {
		t.Fatalf("PropagateUpdates failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 update command, got %d", n)
	}

	cmds, _ := s.ListCommands(ctx, "behind", 10)
	if len(cmds) != 1 || cmds[0].Type != UpdateCommandType {
		t.Fatalf("Expected one %s command for behind cluster, got %+v", UpdateCommandType, cmds)
	}
	if cmds[0].Params["target_version"] != "v2.0.0" {
		t.Errorf("Expected target_version v2.0.0, got %s", cmds[0].Params["target_version"])
	}

	for _, id := range []string{"current", "unknown"} {
		cmds, _ := s.ListCommands(ctx, id, 10)
		if len(cmds) != 0 {
			t.Errorf("Cluster %s should receive no update command", id)
		}
	}
}

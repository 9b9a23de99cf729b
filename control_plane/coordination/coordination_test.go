package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/dverma2339/kubepilot/control_plane/store"
)

func TestClusterMonitorMarksStaleOffline(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()
	s.UpsertCluster(ctx, &store.Cluster{
		ClusterID:  "c-stale",
		Name:       "stale",
		Status:     "healthy",
		LastSeenAt: now.Add(-10 * time.Minute),
	})
	s.UpsertCluster(ctx, &store.Cluster{
		ClusterID:  "c-live",
		Name:       "live",
		Status:     "healthy",
		LastSeenAt: now,
	})

	m := NewClusterMonitor(s, time.Minute, 5*time.Minute)
	m.checkLiveness(ctx)

	stale, _ := s.GetCluster(ctx, "c-stale")
	if stale.Status != "offline" {
		t.Fatalf("stale cluster not marked offline: %+v", stale)
	}
	live, _ := s.GetCluster(ctx, "c-live")
	if live.Status != "healthy" {
		t.Fatalf("live cluster wrongly flipped: %+v", live)
	}
}

func TestCommandJanitorRequeuesAndExpires(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	old := time.Now().UTC().Add(-30 * time.Minute)
	fresh := time.Now().UTC()

	stuck := &store.Command{
		CommandID:     "cmd-stuck",
		ClusterID:     "c1",
		Type:          "restart_pod",
		Status:        store.CommandSent,
		DeliveryCount: 1,
		CreatedAt:     old,
		ExecutedAt:    &old,
	}
	exhausted := &store.Command{
		CommandID:     "cmd-dead",
		ClusterID:     "c1",
		Type:          "restart_pod",
		Status:        store.CommandSent,
		DeliveryCount: 3,
		CreatedAt:     old,
		ExecutedAt:    &old,
	}
	recent := &store.Command{
		CommandID:     "cmd-fresh",
		ClusterID:     "c1",
		Type:          "restart_pod",
		Status:        store.CommandSent,
		DeliveryCount: 1,
		CreatedAt:     fresh,
		ExecutedAt:    &fresh,
	}
	for _, cmd := range []*store.Command{stuck, exhausted, recent} {
		if err := s.CreateCommand(ctx, cmd); err != nil {
			t.Fatalf("seed command: %v", err)
		}
	}

	j := NewCommandJanitor(s, time.Minute, 15*time.Minute, 3)
	j.clean(ctx)

	got, _ := s.GetCommand(ctx, "cmd-stuck")
	if got.Status != store.CommandPending {
		t.Fatalf("stuck command not requeued: %+v", got)
	}
	got, _ = s.GetCommand(ctx, "cmd-dead")
	if got.Status != store.CommandFailed {
		t.Fatalf("exhausted command not failed: %+v", got)
	}
	got, _ = s.GetCommand(ctx, "cmd-fresh")
	if got.Status != store.CommandSent {
		t.Fatalf("fresh command should be untouched: %+v", got)
	}
}

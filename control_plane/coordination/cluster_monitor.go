package coordination

import (
	"context"
	"log"
	"time"

	"github.com/dverma2339/kubepilot/control_plane/observability"
	"github.com/dverma2339/kubepilot/control_plane/store"
)

// ClusterMonitor periodically checks for clusters whose agents stopped polling
type ClusterMonitor struct {
	store     store.Store
	interval  time.Duration
	threshold time.Duration
}

func NewClusterMonitor(s store.Store, interval time.Duration, threshold time.Duration) *ClusterMonitor {
	return &ClusterMonitor{
		store:     s,
		interval:  interval,
		threshold: threshold,
	}
}

func (m *ClusterMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *ClusterMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("Starting Cluster Liveness Monitor (Interval: %v, Threshold: %v)", m.interval, m.threshold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkLiveness(ctx)
		}
	}
}

func (m *ClusterMonitor) checkLiveness(ctx context.Context) {
	clusters, err := m.store.ListClusters(ctx)
	if err != nil {
		log.Printf("ClusterMonitor: Failed to list clusters: %v", err)
		return
	}

	activeCount := 0
	now := time.Now()
	for _, c := range clusters {
		diff := now.Sub(c.LastSeenAt)

		if c.Status == "offline" {
			continue
		}

		if diff > m.threshold {
			log.Printf("ClusterMonitor: Cluster %s last polled %v ago. Marking OFFLINE.", c.ClusterID, diff)
			if err := m.store.UpdateClusterStatus(ctx, c.ClusterID, "offline"); err != nil {
				log.Printf("ClusterMonitor: Failed to mark cluster %s offline: %v", c.ClusterID, err)
			}
		} else {
			activeCount++
		}
	}
	observability.ConnectedClusters.Set(float64(activeCount))
}

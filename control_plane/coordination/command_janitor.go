package coordination

import (
	"context"
	"log"
	"time"

	"github.com/dverma2339/kubepilot/control_plane/observability"
	"github.com/dverma2339/kubepilot/control_plane/store"
)

// CommandJanitor reverts commands that were delivered but never acknowledged.
// A command stuck in "sent" past ackTimeout goes back to "pending"; after
// maxDeliveries attempts it is failed instead of redelivered forever.
type CommandJanitor struct {
	store         store.Store
	interval      time.Duration
	ackTimeout    time.Duration
	maxDeliveries int
}

func NewCommandJanitor(s store.Store, interval, ackTimeout time.Duration, maxDeliveries int) *CommandJanitor {
	return &CommandJanitor{
		store:         s,
		interval:      interval,
		ackTimeout:    ackTimeout,
		maxDeliveries: maxDeliveries,
	}
}

func (j *CommandJanitor) Start(ctx context.Context) {
	go j.loop(ctx)
}

func (j *CommandJanitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Printf("Starting Command Janitor (Interval: %v, AckTimeout: %v, MaxDeliveries: %d)", j.interval, j.ackTimeout, j.maxDeliveries)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.clean(ctx)
		}
	}
}

func (j *CommandJanitor) clean(ctx context.Context) {
	cutoff := time.Now().Add(-j.ackTimeout)
	requeued, expired, err := j.store.RequeueStaleCommands(ctx, cutoff, j.maxDeliveries)
	if err != nil {
		log.Printf("Janitor: Requeue scan failed: %v", err)
		return
	}
	if requeued > 0 || expired > 0 {
		log.Printf("Janitor: Requeued %d stale command(s), expired %d", requeued, expired)
		observability.CommandsRequeued.Add(float64(requeued))
		observability.CommandsExpired.Add(float64(expired))
	}
}

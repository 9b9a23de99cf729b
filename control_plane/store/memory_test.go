package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestConcurrentPollsNeverDoubleDeliver(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const total = 50
	for i := 0; i < total; i++ {
		if err := s.CreateCommand(ctx, &Command{
			CommandID: fmt.Sprintf("cmd-%d", i),
			ClusterID: "c1",
			Type:      "restart_pod",
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	const pollers = 10
	var wg sync.WaitGroup
	results := make(chan []*Command, pollers)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmds, err := s.DeliverPendingCommands(ctx, "c1", time.Now())
			if err != nil {
				t.Errorf("deliver: %v", err)
				return
			}
			results <- cmds
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]int)
	delivered := 0
	for batch := range results {
		for _, cmd := range batch {
			seen[cmd.CommandID]++
			delivered++
		}
	}
	if delivered != total {
		t.Fatalf("delivered %d of %d commands", delivered, total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("command %s delivered %d times", id, n)
		}
	}
}

func TestCommandParamBounds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tooMany := make(map[string]string)
	for i := 0; i <= MaxCommandParams; i++ {
		tooMany[fmt.Sprintf("k%d", i)] = "v"
	}
	if err := s.CreateCommand(ctx, &Command{CommandID: "c-many", ClusterID: "c1", Params: tooMany}); err == nil {
		t.Fatal("oversized param count accepted")
	}

	tooBig := map[string]string{"payload": strings.Repeat("x", MaxCommandParamBytes)}
	if err := s.CreateCommand(ctx, &Command{CommandID: "c-big", ClusterID: "c1", Params: tooBig}); err == nil {
		t.Fatal("oversized param payload accepted")
	}

	ok := map[string]string{"namespace": "prod", "pod": "api-0"}
	if err := s.CreateCommand(ctx, &Command{CommandID: "c-ok", ClusterID: "c1", Params: ok}); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
}

func TestApplyRemediationBothWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.CreateAnomaly(ctx, &Anomaly{
		AnomalyID: "a1",
		ClusterID: "c1",
		Type:      "crash_loop_backoff",
		Severity:  SeverityHigh,
	})

	err := s.ApplyRemediation(ctx, &Remediation{
		Command: &Command{
			CommandID: "cmd-1",
			ClusterID: "c1",
			Type:      "restart_pod",
			Source:    "autoheal",
		},
		TriggerType: TriggerAnomaly,
		TriggerID:   "a1",
		ActionTaken: "restart_pod",
	})
	if err != nil {
		t.Fatalf("ApplyRemediation: %v", err)
	}

	cmd, _ := s.GetCommand(ctx, "cmd-1")
	if cmd == nil || cmd.Status != CommandPending {
		t.Fatalf("command not enqueued: %+v", cmd)
	}
	a, _ := s.GetAnomaly(ctx, "a1")
	if !a.Resolved || !a.AutoHealApplied || a.ActionTaken != "restart_pod" || a.ResolvedAt == nil {
		t.Fatalf("anomaly not resolved: %+v", a)
	}
}

func TestApplyRemediationUnknownTriggerLeavesNoCommand(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.ApplyRemediation(ctx, &Remediation{
		Command:     &Command{CommandID: "cmd-1", ClusterID: "c1", Type: "restart_pod"},
		TriggerType: TriggerAnomaly,
		TriggerID:   "ghost",
		ActionTaken: "restart_pod",
	})
	if err == nil {
		t.Fatal("remediation against missing trigger should fail")
	}
	cmd, _ := s.GetCommand(ctx, "cmd-1")
	if cmd != nil {
		t.Fatalf("failed remediation leaked a command: %+v", cmd)
	}
}

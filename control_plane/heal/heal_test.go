package heal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dverma2339/kubepilot/control_plane/store"
)

func seedCluster(t *testing.T, s store.Store, clusterID string) {
	t.Helper()
	err := s.UpsertCluster(context.Background(), &store.Cluster{
		ClusterID: clusterID,
		OwnerID:   "owner-1",
		Name:      clusterID,
		Status:    "healthy",
	})
	if err != nil {
		t.Fatalf("seed cluster: %v", err)
	}
}

func seedSettings(t *testing.T, s store.Store, clusterID string, enabled bool, threshold string) {
	t.Helper()
	err := s.UpsertAutoHealSettings(context.Background(), &store.AutoHealSettings{
		ClusterID:         clusterID,
		Enabled:           enabled,
		SeverityThreshold: threshold,
		AutoApplyAnomaly:  true,
		AutoApplyThreat:   true,
	})
	if err != nil {
		t.Fatalf("seed settings: %v", err)
	}
}

func seedAnomaly(t *testing.T, s store.Store, clusterID, anomalyID, typ, severity string, meta map[string]string) {
	t.Helper()
	err := s.CreateAnomaly(context.Background(), &store.Anomaly{
		AnomalyID:  anomalyID,
		ClusterID:  clusterID,
		Type:       typ,
		Severity:   severity,
		Metadata:   meta,
		DetectedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed anomaly: %v", err)
	}
}

func seedThreat(t *testing.T, s store.Store, clusterID, threatID, typ, severity string, meta map[string]string) {
	t.Helper()
	err := s.CreateThreat(context.Background(), &store.SecurityThreat{
		ThreatID:   threatID,
		ClusterID:  clusterID,
		Type:       typ,
		Severity:   severity,
		Metadata:   meta,
		DetectedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed threat: %v", err)
	}
}

func TestRemediateDisabledSkipsWithoutSideEffects(t *testing.T) {
	s := store.NewMemoryStore()
	seedCluster(t, s, "c1")
	seedSettings(t, s, "c1", false, store.SeverityLow)
	seedAnomaly(t, s, "c1", "a1", "crash_loop_backoff", store.SeverityCritical, map[string]string{"namespace": "prod", "pod": "api-0"})

	eng := NewEngine(s, nil)
	res, err := eng.Remediate(context.Background(), "c1", false)
	if err != nil {
		t.Fatalf("Remediate: %v", err)
	}
	if !res.Skipped || res.SkipReason != "auto-heal disabled" {
		t.Fatalf("expected disabled skip, got %+v", res)
	}

	cmds, _ := s.ListCommands(context.Background(), "c1", 10)
	if len(cmds) != 0 {
		t.Fatalf("expected no commands, got %d", len(cmds))
	}
	a, _ := s.GetAnomaly(context.Background(), "a1")
	if a.Resolved || a.AutoHealApplied {
		t.Fatalf("anomaly mutated despite disabled settings: %+v", a)
	}
	logs, _ := s.ListActionLogs(context.Background(), "c1", 10)
	if len(logs) != 0 {
		t.Fatalf("expected no action logs, got %d", len(logs))
	}
}

func TestRemediateUnconfiguredSkips(t *testing.T) {
	s := store.NewMemoryStore()
	seedCluster(t, s, "c1")

	eng := NewEngine(s, nil)
	res, err := eng.Remediate(context.Background(), "c1", false)
	if err != nil {
		t.Fatalf("Remediate: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("expected skip without settings, got %+v", res)
	}
}

func TestRemediateUnknownCluster(t *testing.T) {
	s := store.NewMemoryStore()
	eng := NewEngine(s, nil)
	_, err := eng.Remediate(context.Background(), "ghost", false)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSeverityThresholdGate(t *testing.T) {
	s := store.NewMemoryStore()
	seedCluster(t, s, "c1")
	seedSettings(t, s, "c1", true, store.SeverityHigh)
	seedAnomaly(t, s, "c1", "a-med", "oom_killed", store.SeverityMedium, map[string]string{"namespace": "prod", "pod": "cache-0"})
	seedThreat(t, s, "c1", "t-crit", "missing_network_policy", store.SeverityCritical, map[string]string{"namespace": "prod"})

	eng := NewEngine(s, nil)
	res, err := eng.Remediate(context.Background(), "c1", false)
	if err != nil {
		t.Fatalf("Remediate: %v", err)
	}
	if len(res.Actions) != 1 {
		t.Fatalf("expected exactly one action, got %+v", res.Actions)
	}
	if res.Actions[0].TriggerID != "t-crit" || res.Actions[0].Action != ActionCreateNetworkPolicy {
		t.Fatalf("unexpected action: %+v", res.Actions[0])
	}

	// The below-threshold anomaly stays open and untouched.
	a, _ := s.GetAnomaly(context.Background(), "a-med")
	if a.Resolved || a.AutoHealApplied {
		t.Fatalf("below-threshold anomaly mutated: %+v", a)
	}
	th, _ := s.GetThreat(context.Background(), "t-crit")
	if !th.Mitigated || !th.AutoHealApplied || th.ActionTaken != ActionCreateNetworkPolicy {
		t.Fatalf("threat not mitigated: %+v", th)
	}
}

func TestCrashLoopRemediationEndToEnd(t *testing.T) {
	s := store.NewMemoryStore()
	seedCluster(t, s, "c1")
	seedSettings(t, s, "c1", true, store.SeverityMedium)
	seedAnomaly(t, s, "c1", "a1", "crash_loop_backoff", store.SeverityHigh, map[string]string{"namespace": "prod", "pod": "api-7f9"})

	eng := NewEngine(s, nil)
	res, err := eng.Remediate(context.Background(), "c1", false)
	if err != nil {
		t.Fatalf("Remediate: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 0 {
		t.Fatalf("unexpected counts: %+v", res)
	}

	cmds, _ := s.ListCommands(context.Background(), "c1", 10)
	if len(cmds) != 1 {
		t.Fatalf("expected one command, got %d", len(cmds))
	}
	cmd := cmds[0]
	if cmd.Type != ActionRestartPod || cmd.Status != store.CommandPending || cmd.Source != "autoheal" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.Params["namespace"] != "prod" || cmd.Params["pod"] != "api-7f9" {
		t.Fatalf("unexpected params: %v", cmd.Params)
	}

	a, _ := s.GetAnomaly(context.Background(), "a1")
	if !a.Resolved || !a.AutoHealApplied || a.ActionTaken != ActionRestartPod {
		t.Fatalf("anomaly not resolved: %+v", a)
	}

	logs, _ := s.ListActionLogs(context.Background(), "c1", 10)
	if len(logs) != 1 {
		t.Fatalf("expected one action log, got %d", len(logs))
	}
	if logs[0].Status != store.ActionCompleted || logs[0].TriggerID != "a1" || logs[0].FinishedAt == nil {
		t.Fatalf("unexpected action log: %+v", logs[0])
	}
}

func TestUnknownTriggerTypeFallsBackToDiagnostics(t *testing.T) {
	s := store.NewMemoryStore()
	seedCluster(t, s, "c1")
	seedSettings(t, s, "c1", true, store.SeverityLow)
	seedAnomaly(t, s, "c1", "a1", "weird_new_signal", store.SeverityHigh, map[string]string{"namespace": "staging"})

	eng := NewEngine(s, nil)
	res, err := eng.Remediate(context.Background(), "c1", false)
	if err != nil {
		t.Fatalf("Remediate: %v", err)
	}
	if len(res.Actions) != 1 || res.Actions[0].Action != ActionCollectDiagnostics {
		t.Fatalf("expected diagnostics fallback, got %+v", res.Actions)
	}
	cmds, _ := s.ListCommands(context.Background(), "c1", 10)
	if cmds[0].Params["namespace"] != "staging" {
		t.Fatalf("unexpected params: %v", cmds[0].Params)
	}
}

func TestForceBypassesGates(t *testing.T) {
	s := store.NewMemoryStore()
	seedCluster(t, s, "c1")
	seedSettings(t, s, "c1", false, store.SeverityCritical)
	seedAnomaly(t, s, "c1", "a1", "oom_killed", store.SeverityLow, map[string]string{"namespace": "prod", "pod": "job-3"})

	eng := NewEngine(s, nil)
	res, err := eng.Remediate(context.Background(), "c1", true)
	if err != nil {
		t.Fatalf("Remediate: %v", err)
	}
	if res.Skipped || res.Succeeded != 1 {
		t.Fatalf("force run did not act: %+v", res)
	}
}

// failOnTrigger wraps a Store and fails the remediation write for one
// trigger id while letting everything else through.
type failOnTrigger struct {
	store.Store
	triggerID string
}

func (f *failOnTrigger) ApplyRemediation(ctx context.Context, r *store.Remediation) error {
	if r.TriggerID == f.triggerID {
		return errors.New("simulated write failure")
	}
	return f.Store.ApplyRemediation(ctx, r)
}

func TestFailureIsolationBetweenRecords(t *testing.T) {
	mem := store.NewMemoryStore()
	seedCluster(t, mem, "c1")
	seedSettings(t, mem, "c1", true, store.SeverityLow)
	seedAnomaly(t, mem, "c1", "a-bad", "crash_loop_backoff", store.SeverityHigh, map[string]string{"namespace": "prod", "pod": "x"})
	seedAnomaly(t, mem, "c1", "a-ok", "oom_killed", store.SeverityHigh, map[string]string{"namespace": "prod", "pod": "y"})

	eng := NewEngine(&failOnTrigger{Store: mem, triggerID: "a-bad"}, nil)
	res, err := eng.Remediate(context.Background(), "c1", false)
	if err != nil {
		t.Fatalf("Remediate: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("expected one success and one failure, got %+v", res)
	}

	good, _ := mem.GetAnomaly(context.Background(), "a-ok")
	if !good.Resolved {
		t.Fatalf("healthy record should have been remediated: %+v", good)
	}
	bad, _ := mem.GetAnomaly(context.Background(), "a-bad")
	if bad.Resolved || bad.AutoHealApplied {
		t.Fatalf("failed record must stay open: %+v", bad)
	}

	logs, _ := mem.ListActionLogs(context.Background(), "c1", 10)
	var failed, completed int
	for _, l := range logs {
		switch l.Status {
		case store.ActionFailed:
			failed++
			if l.Error == "" {
				t.Fatalf("failed log missing error message: %+v", l)
			}
		case store.ActionCompleted:
			completed++
		}
	}
	if failed != 1 || completed != 1 {
		t.Fatalf("expected 1 failed and 1 completed log, got %d/%d", failed, completed)
	}
}

func TestSweepIsolatesClusters(t *testing.T) {
	s := store.NewMemoryStore()
	seedCluster(t, s, "c-on")
	seedCluster(t, s, "c-off")
	seedSettings(t, s, "c-on", true, store.SeverityLow)
	seedSettings(t, s, "c-off", false, store.SeverityLow)
	seedAnomaly(t, s, "c-on", "a1", "crash_loop_backoff", store.SeverityHigh, map[string]string{"namespace": "prod", "pod": "a"})
	seedAnomaly(t, s, "c-off", "a2", "crash_loop_backoff", store.SeverityHigh, map[string]string{"namespace": "prod", "pod": "b"})

	eng := NewEngine(s, nil)
	sweep, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sweep.Clusters != 2 || sweep.Acted != 1 || sweep.Skipped != 1 {
		t.Fatalf("unexpected sweep summary: %+v", sweep)
	}

	onCmds, _ := s.ListCommands(context.Background(), "c-on", 10)
	offCmds, _ := s.ListCommands(context.Background(), "c-off", 10)
	if len(onCmds) != 1 || len(offCmds) != 0 {
		t.Fatalf("sweep leaked across clusters: on=%d off=%d", len(onCmds), len(offCmds))
	}
	off, _ := s.GetAnomaly(context.Background(), "a2")
	if off.Resolved {
		t.Fatalf("disabled cluster was remediated: %+v", off)
	}
}

package heal

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dverma2339/kubepilot/control_plane/notify"
	"github.com/dverma2339/kubepilot/control_plane/observability"
	"github.com/dverma2339/kubepilot/control_plane/store"
)

// maxRecordsPerRun caps how many open records of each category a single run
// processes. The rest are picked up by the next run or sweep.
const maxRecordsPerRun = 10

// ActionResult describes one remediation attempt within a run.
type ActionResult struct {
	TriggerType string `json:"trigger_type"`
	TriggerID   string `json:"trigger_id"`
	Action      string `json:"action"`
	CommandID   string `json:"command_id,omitempty"`
	LogID       string `json:"log_id,omitempty"`
	Status      string `json:"status"` // completed | failed
	Error       string `json:"error,omitempty"`
}

// Result summarizes one remediation run for one cluster.
type Result struct {
	ClusterID  string         `json:"cluster_id"`
	Skipped    bool           `json:"skipped"`
	SkipReason string         `json:"skip_reason,omitempty"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Actions    []ActionResult `json:"actions"`
}

// SweepResult aggregates one fleet-wide remediation pass.
type SweepResult struct {
	Clusters int                `json:"clusters"`
	Acted    int                `json:"acted"`
	Skipped  int                `json:"skipped"`
	Errors   int                `json:"errors"`
	Results  map[string]*Result `json:"results"`
	Duration time.Duration      `json:"-"`
}

// Engine drives severity-gated remediation for detected anomalies and
// security threats.
type Engine struct {
	store    store.Store
	notifier notify.Notifier
}

func NewEngine(s store.Store, n notify.Notifier) *Engine {
	if n == nil {
		n = notify.NewLogNotifier()
	}
	return &Engine{store: s, notifier: n}
}

// Remediate runs one remediation pass for a single cluster. force bypasses
// the enabled flag, the per-category apply flags and the severity threshold;
// it is reserved for explicit operator requests. Individual record failures
// are recorded and do not abort the run.
func (e *Engine) Remediate(ctx context.Context, clusterID string, force bool) (*Result, error) {
	cluster, err := e.store.GetCluster(ctx, clusterID)
	if err != nil {
		observability.HealRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load cluster: %w", err)
	}
	if cluster == nil {
		return nil, store.ErrNotFound
	}

	res := &Result{ClusterID: clusterID, Actions: []ActionResult{}}

	settings, err := e.store.GetAutoHealSettings(ctx, clusterID)
	if err != nil {
		observability.HealRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !force {
		if settings == nil {
			res.Skipped = true
			res.SkipReason = "auto-heal not configured"
			observability.HealRuns.WithLabelValues("skipped").Inc()
			return res, nil
		}
		if !settings.Enabled {
			res.Skipped = true
			res.SkipReason = "auto-heal disabled"
			observability.HealRuns.WithLabelValues("skipped").Inc()
			return res, nil
		}
	}

	gate := thresholdRank(store.SeverityMedium)
	applyAnomalies, applyThreats := true, true
	if settings != nil {
		gate = thresholdRank(settings.SeverityThreshold)
		applyAnomalies = settings.AutoApplyAnomaly
		applyThreats = settings.AutoApplyThreat
	}
	if force {
		gate = severityRank(store.SeverityLow)
		applyAnomalies, applyThreats = true, true
	}

	if applyAnomalies {
		anomalies, err := e.store.ListOpenAnomalies(ctx, clusterID, maxRecordsPerRun)
		if err != nil {
			observability.HealRuns.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("list anomalies: %w", err)
		}
		for _, a := range anomalies {
			if severityRank(a.Severity) < gate {
				continue
			}
			spec := lookupAction(anomalyActions, a.Type)
			e.execute(ctx, res, store.TriggerAnomaly, a.AnomalyID, clusterID, spec, a.Metadata)
		}
	}

	if applyThreats {
		threats, err := e.store.ListOpenThreats(ctx, clusterID, maxRecordsPerRun)
		if err != nil {
			observability.HealRuns.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("list threats: %w", err)
		}
		for _, th := range threats {
			if severityRank(th.Severity) < gate {
				continue
			}
			spec := lookupAction(threatActions, th.Type)
			e.execute(ctx, res, store.TriggerThreat, th.ThreatID, clusterID, spec, th.Metadata)
		}
	}

	if len(res.Actions) == 0 {
		observability.HealRuns.WithLabelValues("empty").Inc()
		return res, nil
	}
	observability.HealRuns.WithLabelValues("acted").Inc()

	sev := "info"
	if res.Failed > 0 {
		sev = "warning"
	}
	if err := e.notifier.Notify(ctx, notify.Event{
		ID:        uuid.NewString(),
		ClusterID: clusterID,
		Topic:     "autoheal.summary",
		Title:     "Auto-heal run finished",
		Message:   fmt.Sprintf("%d remediation(s) applied, %d failed on cluster %s", res.Succeeded, res.Failed, clusterID),
		Severity:  sev,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		log.Printf("[HEAL] notification failed for cluster %s: %v", clusterID, err)
		observability.NotificationFailures.WithLabelValues("autoheal").Inc()
	}
	return res, nil
}

// execute performs one remediation attempt: audit row, then the atomic
// command-plus-resolution write, then the terminal audit update. Audit
// updates are best-effort; the atomic write decides success.
func (e *Engine) execute(ctx context.Context, res *Result, triggerType, triggerID, clusterID string, spec actionSpec, meta map[string]string) {
	params := spec.BuildParams(meta)
	now := time.Now().UTC()

	logRow := &store.AutoHealActionLog{
		LogID:       uuid.NewString(),
		ClusterID:   clusterID,
		TriggerType: triggerType,
		TriggerID:   triggerID,
		Action:      spec.Command,
		Params:      params,
		Status:      store.ActionExecuting,
		CreatedAt:   now,
	}
	if err := e.store.CreateActionLog(ctx, logRow); err != nil {
		log.Printf("[HEAL] action log create failed (trigger %s): %v", triggerID, err)
		logRow.LogID = ""
	}

	cmd := &store.Command{
		CommandID: uuid.NewString(),
		ClusterID: clusterID,
		Type:      spec.Command,
		Params:    params,
		Status:    store.CommandPending,
		Source:    "autoheal",
		CreatedAt: now,
	}

	ar := ActionResult{
		TriggerType: triggerType,
		TriggerID:   triggerID,
		Action:      spec.Command,
		LogID:       logRow.LogID,
	}

	err := e.store.ApplyRemediation(ctx, &store.Remediation{
		Command:     cmd,
		TriggerType: triggerType,
		TriggerID:   triggerID,
		ActionTaken: spec.Command,
	})
	trigger := "anomaly"
	if triggerType == store.TriggerThreat {
		trigger = "threat"
	}
	if err != nil {
		ar.Status = store.ActionFailed
		ar.Error = err.Error()
		res.Failed++
		observability.HealActions.WithLabelValues(trigger, "failed").Inc()
		log.Printf("[HEAL] remediation failed on cluster %s (trigger %s): %v", clusterID, triggerID, err)
		e.finishLog(ctx, logRow.LogID, store.ActionFailed, err.Error())
	} else {
		ar.Status = store.ActionCompleted
		ar.CommandID = cmd.CommandID
		res.Succeeded++
		observability.HealActions.WithLabelValues(trigger, "completed").Inc()
		observability.CommandsEnqueued.WithLabelValues("autoheal").Inc()
		e.finishLog(ctx, logRow.LogID, store.ActionCompleted, "")
	}
	res.Actions = append(res.Actions, ar)
}

func (e *Engine) finishLog(ctx context.Context, logID string, status string, errMsg string) {
	if logID == "" {
		return
	}
	if err := e.store.FinishActionLog(ctx, logID, status, errMsg, time.Now().UTC()); err != nil {
		log.Printf("[HEAL] action log finish failed (log %s): %v", logID, err)
	}
}

// Sweep runs Remediate concurrently across every registered cluster and
// waits for all of them. One cluster's failure never blocks or aborts the
// others.
func (e *Engine) Sweep(ctx context.Context) (*SweepResult, error) {
	started := time.Now()
	clusters, err := e.store.ListClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}

	type outcome struct {
		clusterID string
		res       *Result
		err       error
	}

	results := make(chan outcome, len(clusters))
	var wg sync.WaitGroup
	for _, c := range clusters {
		wg.Add(1)
		go func(clusterID string) {
			defer wg.Done()
			r, err := e.Remediate(ctx, clusterID, false)
			results <- outcome{clusterID: clusterID, res: r, err: err}
		}(c.ClusterID)
	}
	wg.Wait()
	close(results)

	sweep := &SweepResult{
		Clusters: len(clusters),
		Results:  make(map[string]*Result, len(clusters)),
	}
	for o := range results {
		if o.err != nil {
			sweep.Errors++
			sweep.Results[o.clusterID] = &Result{
				ClusterID:  o.clusterID,
				Skipped:    true,
				SkipReason: o.err.Error(),
			}
			log.Printf("[HEAL] sweep: cluster %s failed: %v", o.clusterID, o.err)
			continue
		}
		sweep.Results[o.clusterID] = o.res
		if o.res.Skipped {
			sweep.Skipped++
		} else if len(o.res.Actions) > 0 {
			sweep.Acted++
		}
	}
	sweep.Duration = time.Since(started)
	observability.HealSweepDuration.Observe(sweep.Duration.Seconds())
	return sweep, nil
}

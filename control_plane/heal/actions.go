package heal

import (
	"github.com/dverma2339/kubepilot/control_plane/store"
)

// Remediation command types understood by the agent.
const (
	ActionRestartPod          = "restart_pod"
	ActionScaleDeployment     = "scale_deployment"
	ActionCreateNetworkPolicy = "create_network_policy"
	ActionQuarantinePod       = "quarantine_pod"
	ActionHardenPodSecurity   = "harden_pod_security"
	ActionCollectDiagnostics  = "collect_diagnostics"
)

// actionSpec maps one trigger type to a command type plus a parameter
// builder. Builders receive the trigger's metadata and must not assume any
// key is present.
type actionSpec struct {
	Command     string
	BuildParams func(meta map[string]string) map[string]string
}

func metaOr(meta map[string]string, key, fallback string) string {
	if v, ok := meta[key]; ok && v != "" {
		return v
	}
	return fallback
}

// anomalyActions is the closed dispatch table for anomaly types. Unknown
// types fall back to defaultAction, never to ad-hoc string matching.
var anomalyActions = map[string]actionSpec{
	"crash_loop_backoff": {
		Command: ActionRestartPod,
		BuildParams: func(meta map[string]string) map[string]string {
			return map[string]string{
				"namespace": metaOr(meta, "namespace", "default"),
				"pod":       metaOr(meta, "pod", ""),
			}
		},
	},
	"oom_killed": {
		Command: ActionRestartPod,
		BuildParams: func(meta map[string]string) map[string]string {
			return map[string]string{
				"namespace": metaOr(meta, "namespace", "default"),
				"pod":       metaOr(meta, "pod", ""),
			}
		},
	},
	"resource_exhaustion": {
		Command: ActionScaleDeployment,
		BuildParams: func(meta map[string]string) map[string]string {
			return map[string]string{
				"namespace":  metaOr(meta, "namespace", "default"),
				"deployment": metaOr(meta, "deployment", ""),
				// Fixed replica bump; the agent applies it relative to the
				// current replica count.
				"replica_delta": "1",
			}
		},
	},
}

// threatActions is the closed dispatch table for security threat types.
var threatActions = map[string]actionSpec{
	"missing_network_policy": {
		Command: ActionCreateNetworkPolicy,
		BuildParams: func(meta map[string]string) map[string]string {
			return map[string]string{
				"namespace": metaOr(meta, "namespace", "default"),
				"template":  "deny-all-ingress",
			}
		},
	},
	"privileged_container": {
		Command: ActionHardenPodSecurity,
		BuildParams: func(meta map[string]string) map[string]string {
			return map[string]string{
				"namespace": metaOr(meta, "namespace", "default"),
				"pod":       metaOr(meta, "pod", ""),
			}
		},
	},
	"suspicious_process": {
		Command: ActionQuarantinePod,
		BuildParams: func(meta map[string]string) map[string]string {
			return map[string]string{
				"namespace": metaOr(meta, "namespace", "default"),
				"pod":       metaOr(meta, "pod", ""),
			}
		},
	},
}

// defaultAction is the declared fallback for unrecognized trigger types.
var defaultAction = actionSpec{
	Command: ActionCollectDiagnostics,
	BuildParams: func(meta map[string]string) map[string]string {
		return map[string]string{
			"namespace": metaOr(meta, "namespace", "default"),
		}
	},
}

func lookupAction(table map[string]actionSpec, triggerType string) actionSpec {
	if spec, ok := table[triggerType]; ok {
		return spec
	}
	return defaultAction
}

// severityRank orders the fixed severity scale. Unknown strings rank below
// "low" so malformed records never clear a threshold.
func severityRank(severity string) int {
	switch severity {
	case store.SeverityLow:
		return 1
	case store.SeverityMedium:
		return 2
	case store.SeverityHigh:
		return 3
	case store.SeverityCritical:
		return 4
	default:
		return 0
	}
}

// thresholdRank is the gate value for settings. An empty or malformed
// threshold defaults to "medium" rather than acting on everything.
func thresholdRank(threshold string) int {
	if r := severityRank(threshold); r > 0 {
		return r
	}
	return severityRank(store.SeverityMedium)
}

package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/dverma2339/kubepilot/control_plane/middleware"
	"github.com/dverma2339/kubepilot/control_plane/observability"
	"github.com/dverma2339/kubepilot/control_plane/store"
)

// -- Agent Protocol: Poll / Ack / Version Report --

// handlePollCommands drains the pending queue for the authenticated cluster.
// Every command returned here has already been flipped to "sent"; an agent
// that crashes before executing gets it again via the janitor.
func (a *API) handlePollCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !a.pollLimiter.Allow() {
		observability.AgentPolls.WithLabelValues("throttled").Inc()
		a.writeStormError(w, "poll")
		return
	}

	clusterID, err := middleware.GetClusterFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	now := time.Now().UTC()
	if err := a.store.TouchCluster(r.Context(), clusterID, now); err != nil {
		log.Printf("[POLL] touch cluster %s failed: %v", clusterID, err)
	}

	commands, err := a.store.DeliverPendingCommands(r.Context(), clusterID, now)
	if err != nil {
		log.Printf("[POLL] delivery failed for cluster %s: %v", clusterID, err)
		observability.AgentPolls.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if len(commands) == 0 {
		observability.AgentPolls.WithLabelValues("empty").Inc()
	} else {
		observability.AgentPolls.WithLabelValues("delivered").Inc()
		observability.CommandsDelivered.Add(float64(len(commands)))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"commands": commands,
	})
}

// handleAckCommand records the terminal outcome of a delivered command.
func (a *API) handleAckCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !a.ackLimiter.Allow() {
		a.writeStormError(w, "ack")
		return
	}

	clusterID, err := middleware.GetClusterFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		CommandID string `json:"command_id"`
		Status    string `json:"status"`
		Result    string `json:"result,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CommandID == "" {
		writeError(w, http.StatusBadRequest, "command_id is required")
		return
	}
	if req.Status != store.CommandCompleted && req.Status != store.CommandFailed {
		writeError(w, http.StatusBadRequest, "status must be 'completed' or 'failed'")
		return
	}
	if len(req.Result) > store.MaxCommandParamBytes {
		req.Result = req.Result[:store.MaxCommandParamBytes]
	}

	err = a.store.AckCommand(r.Context(), clusterID, req.CommandID, req.Status, req.Result, time.Now().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Unknown command")
		return
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, "Command belongs to a different cluster")
		return
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "Command already acknowledged")
		return
	case err != nil:
		log.Printf("[ACK] cluster %s command %s: %v", clusterID, req.CommandID, err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observability.CommandsAcked.WithLabelValues(req.Status).Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"command_id": req.CommandID,
		"status":     req.Status,
	})
}

// handleReportVersion records the agent build and answers with the catalog
// comparison the agent uses to decide whether to self-update.
func (a *API) handleReportVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clusterID, err := middleware.GetClusterFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	reported := r.Header.Get("agent-version")
	if reported == "" {
		writeError(w, http.StatusBadRequest, "agent-version header is required")
		return
	}

	report, err := a.versions.ReportVersion(r.Context(), clusterID, reported)
	if err != nil {
		log.Printf("[VERSION] report failed for cluster %s: %v", clusterID, err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"current_version":  report.CurrentVersion,
		"latest_version":   report.LatestVersion,
		"update_available": report.UpdateAvailable,
		"is_required":      report.IsRequired,
		"release_notes":    report.ReleaseNotes,
	})
}

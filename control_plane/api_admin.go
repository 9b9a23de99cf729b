package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dverma2339/kubepilot/control_plane/keystore"
	"github.com/dverma2339/kubepilot/control_plane/middleware"
	"github.com/dverma2339/kubepilot/control_plane/notify"
	"github.com/dverma2339/kubepilot/control_plane/store"
	"github.com/dverma2339/kubepilot/control_plane/version"
)

// -- Operator / Admin Surface --

// handleRemediate triggers one auto-heal pass for a single cluster.
// Per-record failures are reported in the body, not as an HTTP error.
func (a *API) handleRemediate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ClusterID string `json:"cluster_id"`
		Force     bool   `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ClusterID == "" {
		writeError(w, http.StatusBadRequest, "cluster_id is required")
		return
	}

	res, err := a.healer.Remediate(r.Context(), req.ClusterID, req.Force)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Unknown cluster")
		return
	}
	if err != nil {
		log.Printf("[REMEDIATE] cluster %s: %v", req.ClusterID, err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	settings, err := a.store.GetAutoHealSettings(r.Context(), req.ClusterID)
	if err != nil {
		log.Printf("[REMEDIATE] load settings for response: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"cluster_id":       res.ClusterID,
		"skipped":          res.Skipped,
		"skip_reason":      res.SkipReason,
		"actions_executed": res.Succeeded,
		"actions_failed":   res.Failed,
		"actions":          res.Actions,
		"settings":         settings,
	})
}

// handleSweep runs the remediation engine across the whole fleet.
func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sweep, err := a.healer.Sweep(r.Context())
	if err != nil {
		log.Printf("[SWEEP] failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"clusters": sweep.Clusters,
		"acted":    sweep.Acted,
		"skipped":  sweep.Skipped,
		"errors":   sweep.Errors,
		"results":  sweep.Results,
	})
}

// handlePublishVersion registers a new agent build as latest. Guarded by the
// deploy-pipeline admin key, not a user JWT.
func (a *API) handlePublishVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	provided := r.Header.Get("admin-key")
	if len(a.adminKey) == 0 || subtle.ConstantTimeCompare([]byte(provided), a.adminKey) != 1 {
		writeError(w, http.StatusUnauthorized, "Invalid admin key")
		return
	}

	var req struct {
		Version        string `json:"version"`
		ReleaseType    string `json:"release_type,omitempty"`
		ReleaseNotes   string `json:"release_notes,omitempty"`
		IsRequired     bool   `json:"is_required,omitempty"`
		TriggerUpdates bool   `json:"trigger_updates,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !version.IsValid(req.Version) {
		writeError(w, http.StatusBadRequest, "version must be v?MAJOR.MINOR.PATCH")
		return
	}

	entry := &store.AgentVersion{
		Version:      req.Version,
		IsLatest:     true,
		ReleaseType:  req.ReleaseType,
		IsRequired:   req.IsRequired,
		ReleaseNotes: req.ReleaseNotes,
		PublishedAt:  time.Now().UTC(),
	}
	if err := a.versions.Publish(r.Context(), entry); err != nil {
		log.Printf("[PUBLISH] version %s: %v", req.Version, err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	log.Printf("[PUBLISH] version %s is now latest (type=%s required=%t)", entry.Version, entry.ReleaseType, entry.IsRequired)

	if a.notifier != nil {
		if err := a.notifier.Notify(r.Context(), notify.Event{
			ID:        uuid.NewString(),
			Topic:     "version.published",
			Title:     "New agent version published",
			Message:   fmt.Sprintf("Agent %s (%s) is now the latest release", entry.Version, entry.ReleaseType),
			Severity:  "info",
			Timestamp: time.Now().UTC(),
		}); err != nil {
			log.Printf("[PUBLISH] notification failed: %v", err)
		}
	}

	enqueued := 0
	if req.TriggerUpdates {
		n, err := a.versions.PropagateUpdates(r.Context())
		if err != nil {
			log.Printf("[PUBLISH] propagation failed: %v", err)
		}
		enqueued = n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"version":          entry.Version,
		"updates_enqueued": enqueued,
	})
}

// handleGenerateKey issues a fresh agent credential for a cluster. The
// plaintext is returned exactly once; only its hash is stored.
func (a *API) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	role, _ := middleware.GetRoleFromContext(r.Context())

	var req struct {
		ClusterID string `json:"cluster_id"`
		Name      string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ClusterID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "cluster_id and name are required")
		return
	}

	cluster, err := a.store.GetCluster(r.Context(), req.ClusterID)
	if err != nil {
		log.Printf("[KEYS] load cluster %s: %v", req.ClusterID, err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if cluster == nil {
		writeError(w, http.StatusNotFound, "Unknown cluster")
		return
	}
	if cluster.OwnerID != userID && role != "admin" {
		writeError(w, http.StatusForbidden, "Not your cluster")
		return
	}

	rawKey, err := generateAgentKey()
	if err != nil {
		log.Printf("[KEYS] generation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	key := &store.AgentKey{
		KeyID:     uuid.NewString(),
		ClusterID: req.ClusterID,
		Name:      req.Name,
		KeyHash:   keystore.HashKey(rawKey),
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateAgentKey(r.Context(), key); err != nil {
		log.Printf("[KEYS] store failed for cluster %s: %v", req.ClusterID, err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"key_id":     key.KeyID,
		"cluster_id": key.ClusterID,
		"name":       key.Name,
		"key":        rawKey, // shown once, never stored
	})
}

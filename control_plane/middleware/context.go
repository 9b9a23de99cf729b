package middleware

import (
	"context"
	"fmt"

	"github.com/dverma2339/kubepilot/control_plane/store"
)

// ContextKey is a strict type for context keys to prevent collisions.
type ContextKey string

const (
	// UserKey is the context key for the authenticated user id.
	UserKey ContextKey = "user_id"
	// RoleContextKey is the context key for the JWT role.
	RoleContextKey ContextKey = "role"
	// ClaimsContextKey carries the full validated claims.
	ClaimsContextKey ContextKey = "claims"
	// ClusterKey is the context key for the agent's cluster id.
	ClusterKey ContextKey = "cluster_id"
	// AgentKeyContextKey carries the resolved agent credential.
	AgentKeyContextKey ContextKey = "agent_key"
)

// GetUserFromContext safely retrieves the user id from the context.
func GetUserFromContext(ctx context.Context) (string, error) {
	val := ctx.Value(UserKey)
	if val == nil {
		return "", fmt.Errorf("user_id not found in context")
	}
	userID, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("user_id in context is not a string")
	}
	return userID, nil
}

// GetRoleFromContext retrieves the role from the context.
func GetRoleFromContext(ctx context.Context) (string, error) {
	val := ctx.Value(RoleContextKey)
	if val == nil {
		return "", fmt.Errorf("role not found in context")
	}
	role, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("role in context is not a string")
	}
	return role, nil
}

// GetClusterFromContext retrieves the agent's cluster id from the context.
func GetClusterFromContext(ctx context.Context) (string, error) {
	val := ctx.Value(ClusterKey)
	if val == nil {
		return "", fmt.Errorf("cluster_id not found in context")
	}
	clusterID, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("cluster_id in context is not a string")
	}
	return clusterID, nil
}

// GetAgentKeyFromContext retrieves the resolved credential from the context.
func GetAgentKeyFromContext(ctx context.Context) (*store.AgentKey, error) {
	val := ctx.Value(AgentKeyContextKey)
	if val == nil {
		return nil, fmt.Errorf("agent key not found in context")
	}
	key, ok := val.(*store.AgentKey)
	if !ok {
		return nil, fmt.Errorf("agent key in context has wrong type")
	}
	return key, nil
}

package keystore

import (
	"context"
	"testing"

	"github.com/dverma2339/kubepilot/control_plane/store"
)

func TestResolveByHash(t *testing.T) {
	s := store.NewMemoryStore()
	resolver := NewResolver(s)
	ctx := context.Background()

	raw := "cpk_resolve_hash_key"
	s.CreateAgentKey(ctx, &store.AgentKey{
		KeyID:     "key-1",
		ClusterID: "cluster-1",
		KeyHash:   HashKey(raw),
		Active:    true,
	})

	key, err := resolver.Resolve(ctx, raw)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if key.ClusterID != "cluster-1" {
		t.Errorf("Expected cluster-1, got %s", key.ClusterID)
	}
}

func TestResolveUnknownKey(t *testing.T) {
	s := store.NewMemoryStore()
	resolver := NewResolver(s)

	_, err := resolver.Resolve(context.Background(), "cpk_nonexistent")
	if err != ErrUnauthenticated {
		t.Errorf("Expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveEmptyKey(t *testing.T) {
	s := store.NewMemoryStore()
	resolver := NewResolver(s)

	_, err := resolver.Resolve(context.Background(), "")
	if err != ErrUnauthenticated {
		t.Errorf("Expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveInactiveKey(t *testing.T) {
	s := store.NewMemoryStore()
	resolver := NewResolver(s)
	ctx := context.Background()

	raw := "cpk_inactive"
	s.CreateAgentKey(ctx, &store.AgentKey{
		KeyID:     "key-inactive",
		ClusterID: "cluster-1",
		KeyHash:   HashKey(raw),
		Active:    false,
	})

	_, err := resolver.Resolve(ctx, raw)
	if err != ErrUnauthenticated {
		t.Errorf("Expected ErrUnauthenticated for inactive key, got %v", err)
	}
}

// A plaintext-only key authenticates once via fallback, gets its hash
// backfilled, and subsequent resolves take the hash path.
func TestPlaintextFallbackMigration(t *testing.T) {
	s := store.NewMemoryStore()
	resolver := NewResolver(s)
	ctx := context.Background()

	raw := "legacy_plaintext_key_123"
	s.CreateAgentKey(ctx, &store.AgentKey{
		KeyID:        "key-legacy",
		ClusterID:    "cluster-legacy",
		PlaintextKey: raw,
		Active:       true,
	})

	// First resolve goes through the fallback.
	key, err := resolver.Resolve(ctx, raw)
	if err != nil {
		t.Fatalf("Fallback resolve failed: %v", err)
	}
	if key.ClusterID != "cluster-legacy" {
		t.Errorf("Expected cluster-legacy, got %s", key.ClusterID)
	}

	// The row must now carry the hash and no plaintext.
	migrated, err := s.GetAgentKeyByHash(ctx, HashKey(raw))
	if err != nil || migrated == nil {
		t.Fatalf("Expected migrated key via hash lookup, got %v / %v", migrated, err)
	}
	if migrated.PlaintextKey != "" {
		t.Error("Expected plaintext cleared after backfill")
	}

	// Second resolve succeeds without the plaintext path.
	resolver.DisableFallback = true
	if _, err := resolver.Resolve(ctx, raw); err != nil {
		t.Errorf("Hash-path resolve after migration failed: %v", err)
	}
}

// With the fallback kill switch on, legacy keys no longer authenticate.
func TestFallbackDisabled(t *testing.T) {
	s := store.NewMemoryStore()
	resolver := NewResolver(s)
	resolver.DisableFallback = true
	ctx := context.Background()

	raw := "legacy_only"
	s.CreateAgentKey(ctx, &store.AgentKey{
		KeyID:        "key-legacy-2",
		ClusterID:    "cluster-1",
		PlaintextKey: raw,
		Active:       true,
	})

	if _, err := resolver.Resolve(ctx, raw); err != ErrUnauthenticated {
		t.Errorf("Expected ErrUnauthenticated with fallback disabled, got %v", err)
	}
}

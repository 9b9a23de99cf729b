// Package keystore resolves opaque agent credentials to cluster identities.
//
// Lookup is a two-phase migration shim: the SHA-256 digest path is
// authoritative, and a legacy plaintext path exists only for keys issued
// before hashing was introduced. A legacy key is upgraded to its hash on
// first successful use and never downgraded. The fallback is instrumented
// (see observability.KeystoreFallbackHits) and can be switched off entirely
// once the counter stays flat.
package keystore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dverma2339/kubepilot/control_plane/observability"
	"github.com/dverma2339/kubepilot/control_plane/store"
)

// ErrUnauthenticated is returned when no active key matches the credential.
var ErrUnauthenticated = errors.New("keystore: invalid or inactive agent key")

// Resolver authenticates agent keys against the store.
type Resolver struct {
	store store.Store

	// DisableFallback turns off the legacy plaintext lookup. Set it once the
	// fallback-hit metric confirms every key has been migrated.
	DisableFallback bool
}

// NewResolver creates a Resolver backed by s.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// HashKey returns the hex SHA-256 digest of a raw agent key. The digest is
// deterministic so it can serve as an indexed lookup column.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Resolve maps a presented credential to its AgentKey record.
// Returns ErrUnauthenticated when neither lookup matches or the matched key
// is inactive; any other error is a storage failure.
func (r *Resolver) Resolve(ctx context.Context, rawKey string) (*store.AgentKey, error) {
	if rawKey == "" {
		return nil, ErrUnauthenticated
	}

	hash := HashKey(rawKey)

	key, err := r.store.GetAgentKeyByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("keystore: hash lookup: %w", err)
	}
	if key != nil {
		observability.KeystoreLookups.WithLabelValues("hash").Inc()
		return r.checkActive(ctx, key)
	}

	if r.DisableFallback {
		observability.KeystoreLookups.WithLabelValues("miss").Inc()
		return nil, ErrUnauthenticated
	}

	// Legacy path: keys issued before hashing stored the raw value.
	key, err = r.store.GetAgentKeyByPlaintext(ctx, rawKey)
	if err != nil {
		return nil, fmt.Errorf("keystore: plaintext lookup: %w", err)
	}
	if key == nil {
		observability.KeystoreLookups.WithLabelValues("miss").Inc()
		return nil, ErrUnauthenticated
	}
	// The store matched by equality; re-check in constant time before
	// trusting the row.
	if subtle.ConstantTimeCompare([]byte(key.PlaintextKey), []byte(rawKey)) != 1 {
		observability.KeystoreLookups.WithLabelValues("miss").Inc()
		return nil, ErrUnauthenticated
	}

	observability.KeystoreLookups.WithLabelValues("plaintext").Inc()
	observability.KeystoreFallbackHits.Inc()

	// Opportunistic backfill so the next poll takes the hash path. Best
	// effort: a failure here must not fail an otherwise valid poll.
	if err := r.store.BackfillAgentKeyHash(ctx, key.KeyID, hash); err != nil {
		log.Printf("[KEYSTORE] Failed to backfill hash for key %s: %v", key.KeyID, err)
	} else {
		key.KeyHash = hash
		key.PlaintextKey = ""
	}

	return r.checkActive(ctx, key)
}

func (r *Resolver) checkActive(ctx context.Context, key *store.AgentKey) (*store.AgentKey, error) {
	if !key.Active {
		return nil, ErrUnauthenticated
	}
	// Best effort usage stamp.
	if err := r.store.TouchAgentKey(ctx, key.KeyID, time.Now()); err != nil {
		log.Printf("[KEYSTORE] Failed to stamp key %s: %v", key.KeyID, err)
	}
	return key, nil
}

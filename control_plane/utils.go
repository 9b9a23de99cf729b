package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// generateAgentKey produces a new agent credential: a recognizable prefix
// plus 32 random bytes, hex encoded.
func generateAgentKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return "cpk_" + hex.EncodeToString(buf), nil
}

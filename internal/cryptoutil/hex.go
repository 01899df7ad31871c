// Package cryptoutil holds small helpers shared by config validation and
// the snapshot sealer.
package cryptoutil

import (
	"encoding/hex"
	"fmt"
)

// IsHexString reports whether s consists entirely of hexadecimal characters
// (0-9, a-f, A-F). It returns true for an empty string — callers should check
// length separately when a minimum size is required.
func IsHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Key32 interprets key as either 32 raw bytes or 64 hex characters and
// returns the 32-byte array used for snapshot sealing.
func Key32(key string) ([32]byte, error) {
	var out [32]byte
	switch {
	case len(key) == 32:
		copy(out[:], key)
		return out, nil
	case len(key) == 64 && IsHexString(key):
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return out, fmt.Errorf("key hex must decode to 32 bytes: %w", err)
		}
		copy(out[:], decoded)
		return out, nil
	default:
		return out, fmt.Errorf("key must be exactly 32 bytes or 64 hex characters (got %d)", len(key))
	}
}

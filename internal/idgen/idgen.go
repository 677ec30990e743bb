// Package idgen provides random ID generation for ledger entries and records.
package idgen

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// New generates a random UUID string, used as the primary key for
// score events and other persisted records.
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a prefixed random ID (e.g. "ms_", "rp_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

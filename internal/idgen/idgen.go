// Package idgen generates identifiers for users, wallets, transactions and
// alerts.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Prefixes for the identifiers the service mints.
const (
	PrefixUser   = "usr_"
	PrefixWallet = "wal_"
	PrefixTx     = "tx_"
	PrefixAlert  = "alt_"
	PrefixKey    = "ak_"
)

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by the 32 hex digits of a random UUID,
// e.g. "alt_9b2f0c3e...".
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

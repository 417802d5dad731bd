package custody

import (
	"crypto/sha256"
	"encoding/hex"
)

// Commitment derives the hex commitment for a redemption secret. Issuers store
// the commitment as the record key; redeemers prove possession by supplying a
// preimage that re-derives to the same key. Exact match only; a near-miss is
// just a missing key.
func Commitment(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

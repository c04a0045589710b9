// Package fingerprint derives the natural deduplication key of a referral event.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// separator is the ASCII unit separator; it does not occur in user ids
// or in a query-string payload.
const separator = "\x1f"

// Of returns the hex SHA-256 of newUserID, referrerID and the raw signed
// payload (empty when none was sent), joined in that fixed order.
func Of(newUserID, referrerID, payload string) string {
	sum := sha256.Sum256([]byte(newUserID + separator + referrerID + separator + payload))
	return hex.EncodeToString(sum[:])
}

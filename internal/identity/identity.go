// Package identity maps raw platform user IDs to opaque author handles.
//
// The handle is the SHA-256 of the decimal string form of the ID, so numeric
// and string representations of the same user agree. Real platform IDs never
// leave the producing process; everything downstream sees only handles.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// HandleLength is the length of a hex-encoded author handle.
const HandleLength = 64

// HashString hashes a user ID already in string form.
func HashString(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}

// Hash hashes a numeric user ID. Hash(123) == HashString("123").
func Hash(userID int64) string {
	return HashString(strconv.FormatInt(userID, 10))
}

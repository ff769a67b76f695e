package utils

import (
	"crypto/sha256"
	"fmt"
)

// HashString returns the hex-encoded SHA-256 of the input. Used to detect
// summary text changes and to key embedding cache entries.
func HashString(input string) string {
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash)
}

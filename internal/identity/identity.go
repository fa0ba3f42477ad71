// Package identity generates and validates the identifiers used throughout
// the library: cluster keys, instance IDs, and job IDs.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// NewToken returns a fresh 32-character lowercase hexadecimal token, derived
// from a random 128-bit identifier with the dashes stripped. Used for
// instance IDs and auto-generated job IDs.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether s is an acceptable instance or job identifier:
// 2 to 32 characters, all alphanumeric.
func ValidID(s string) bool {
	if len(s) < 2 || len(s) > 32 {
		return false
	}

	return alphanumeric(s)
}

// ValidKey reports whether s is an acceptable cluster key: 1 to 32
// characters, alphanumeric or hyphen.
func ValidKey(s string) bool {
	if len(s) < 1 || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if !isAlnum(r) && r != '-' {
			return false
		}
	}

	return true
}

// ValidName reports whether s is an acceptable environment or partition
// name: 1 to 32 alphanumeric characters.
func ValidName(s string) bool {
	if len(s) < 1 || len(s) > 32 {
		return false
	}

	return alphanumeric(s)
}

func alphanumeric(s string) bool {
	for _, r := range s {
		if !isAlnum(r) {
			return false
		}
	}

	return true
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

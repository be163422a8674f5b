package adw

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

// adwIDPattern matches a well-formed workflow identifier: exactly eight
// lowercase hex characters.
var adwIDPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// NewADWID generates a new 8-character lowercase hex workflow identifier.
func NewADWID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating adw_id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidADWID returns true if s is a well-formed workflow identifier.
func ValidADWID(s string) bool {
	return adwIDPattern.MatchString(s)
}

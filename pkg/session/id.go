// Package session generates opaque session identifiers.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// idRandomBytes is the entropy per identifier; 16 bytes encode to 22
// URL-safe characters, keeping the full id well under the 64-char column.
const idRandomBytes = 16

// NewID returns a fresh identifier of the form "session-" followed by the
// unpadded URL-safe base64 encoding of 16 random bytes.
func NewID() (string, error) {
	buf := make([]byte, idRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return "session-" + base64.RawURLEncoding.EncodeToString(buf), nil
}

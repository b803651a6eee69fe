package session

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestNewIDFormat(t *testing.T) {
	t.Parallel()

	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}

	if !strings.HasPrefix(id, "session-") {
		t.Fatalf("missing prefix: %q", id)
	}
	suffix := strings.TrimPrefix(id, "session-")
	raw, err := base64.RawURLEncoding.DecodeString(suffix)
	if err != nil {
		t.Fatalf("suffix not URL-safe base64: %v", err)
	}
	if len(raw) != idRandomBytes {
		t.Fatalf("decoded %d bytes, want %d", len(raw), idRandomBytes)
	}
	if len(id) > 64 {
		t.Fatalf("id exceeds 64 chars: %d", len(id))
	}
}

func TestNewIDUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

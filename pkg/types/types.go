// Package types defines the shared types used across the gateway packages.
//
// These types form the lingua franca between the LLM and TTS providers, the
// history cache, and the turn pipeline. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// IsValid reports whether r is a recognised message role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single conversation history item. Messages are serialised as
// {"role","content"} JSON both on the wire to the LLM backend and in the
// history cache list.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

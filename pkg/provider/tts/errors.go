package tts

import "fmt"

// Kind classifies a TTS backend failure.
type Kind string

const (
	// KindAuth means the backend rejected the credentials (HTTP 401).
	KindAuth Kind = "auth"

	// KindRateLimit means the backend throttled the request (HTTP 429).
	KindRateLimit Kind = "rate_limit"

	// KindUpstream covers any other backend-side failure.
	KindUpstream Kind = "upstream"

	// KindTimeout means the synthesis request exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindNetwork means the backend could not be reached.
	KindNetwork Kind = "network"
)

// Error is a classified TTS backend failure. Recover it from any error chain
// with errors.As.
type Error struct {
	// Kind is the failure classification.
	Kind Kind

	// Status is the HTTP status code when the failure maps to one, else 0.
	Status int

	// Msg is a short human-readable description.
	Msg string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tts: %s (status %d): %s", e.Kind, e.Status, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("tts: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("tts: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindForStatus maps an HTTP response status to a failure kind.
func KindForStatus(status int) Kind {
	switch {
	case status == 401:
		return KindAuth
	case status == 429:
		return KindRateLimit
	default:
		return KindUpstream
	}
}

// Package tts defines the Client interface for Text-To-Speech backends.
//
// A client turns one short text fragment into a complete encoded audio blob.
// Synthesis is synchronous per fragment; there is no streaming within a single
// call. The voice is fixed per client instance so a conversation keeps one
// consistent speaker.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Format is an audio container/encoding requested from the backend.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
	FormatAAC  Format = "aac"
	FormatFLAC Format = "flac"
	FormatPCM  Format = "pcm"
)

// IsValid reports whether f is one of the supported formats.
func (f Format) IsValid() bool {
	switch f {
	case FormatWAV, FormatMP3, FormatOpus, FormatAAC, FormatFLAC, FormatPCM:
		return true
	}
	return false
}

// Client is the abstraction over any synthesis backend.
type Client interface {
	// Synthesize converts text into a complete audio blob in the requested
	// format. The returned bytes are the full encoded payload, ready to be
	// framed for the client as-is.
	Synthesize(ctx context.Context, text string, format Format) ([]byte, error)
}

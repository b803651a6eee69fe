// Package turn implements the per-utterance pipeline: it streams LLM tokens
// and synthesized audio chunks as one ordered event sequence, maintains the
// session's rolling history, and finalizes the persisted turn row with
// latency telemetry on every exit path.
package turn

import "github.com/gimseonjin/realtime-character/pkg/provider/tts"

// EventType discriminates the events of one turn.
type EventType string

const (
	// EventToken carries one incremental text token, in model order.
	EventToken EventType = "token"

	// EventAudioChunk carries one synthesized fragment, in chunker order.
	EventAudioChunk EventType = "audio_chunk"

	// EventDone terminates a turn whose producers both finished; it carries
	// the full assistant text.
	EventDone EventType = "done"

	// EventError terminates a failed turn. It is emitted by the turn service,
	// never by the orchestrator itself.
	EventError EventType = "error"
)

// Event is one element of a turn's ordered output sequence. Only the fields
// matching Type are populated.
type Event struct {
	Type EventType

	// Text is the token text (EventToken).
	Text string

	// Seq is the 1-based fragment sequence number (EventAudioChunk).
	Seq int

	// Format is the audio encoding of Data (EventAudioChunk).
	Format tts.Format

	// Data is the base64-encoded audio payload (EventAudioChunk).
	Data string

	// AssistantText is the trimmed concatenation of all tokens, nil when the
	// reply was empty (EventDone).
	AssistantText *string

	// Message is a human-readable failure description (EventError).
	Message string
}

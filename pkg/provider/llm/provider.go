// Package llm defines the Streamer interface for Large Language Model backends.
//
// A streamer wraps a remote or local model API and produces a lazy sequence of
// text tokens for one user utterance plus its conversation history. Joining all
// tokens in emission order reconstructs the complete assistant reply.
//
// Implementations must be safe for concurrent use. Channels returned by Stream
// must be closed by the implementation when the stream ends or when the
// supplied context is cancelled.
package llm

import (
	"context"

	"github.com/gimseonjin/realtime-character/pkg/types"
)

// Token is a single text fragment emitted by a streaming completion.
//
// A Token with a non-nil Err is terminal: it reports a failure that occurred
// after the stream was successfully opened (for example an upstream error in
// the middle of generation). No further tokens follow an error token.
type Token struct {
	// Text is the incremental text content. Empty on a pure error token.
	Text string

	// Err, when non-nil, carries the mid-stream failure. Inspect it with
	// [errors.As] against *Error to recover the failure kind.
	Err error
}

// Streamer is the abstraction over any token-producing LLM backend.
//
// Each returned channel is single-use: once drained or abandoned it cannot be
// restarted. Callers must drain the channel (or cancel ctx) to release the
// implementation's internal goroutine.
type Streamer interface {
	// Stream sends userText with the given chronological history to the model
	// and returns a read-only channel emitting tokens as they arrive. The
	// channel is closed by the implementation when generation finishes, fails,
	// or ctx is cancelled.
	//
	// The initial error return is non-nil only for failures that prevent the
	// stream from starting (invalid credentials, unreachable host, rejected
	// request). Failures after that point are surfaced as a terminal Token
	// with Err set.
	Stream(ctx context.Context, userText string, history []types.Message) (<-chan Token, error)
}

// Package mock provides two llm.Streamer implementations that run without a
// live backend.
//
// [Echo] is the provider selected by LLM_PROVIDER=mock: it replays the user's
// text character by character with a small delay so the full streaming path
// (chunking, TTS, latency instrumentation) can be exercised end to end.
//
// [Scripted] is a call-recording test double in the style of the other
// provider mocks: tests preload the tokens to emit and inspect the recorded
// Stream invocations afterwards.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/gimseonjin/realtime-character/pkg/provider/llm"
	"github.com/gimseonjin/realtime-character/pkg/types"
)

// Compile-time interface checks.
var (
	_ llm.Streamer = (*Echo)(nil)
	_ llm.Streamer = (*Scripted)(nil)
)

// defaultTokenDelay is the pause between emitted characters, chosen to feel
// like a real model streaming at a few dozen tokens per second.
const defaultTokenDelay = 20 * time.Millisecond

// EchoOption configures an [Echo] during construction.
type EchoOption func(*Echo)

// WithTokenDelay overrides the per-character delay. Zero disables the delay,
// which is what tests want.
func WithTokenDelay(d time.Duration) EchoOption {
	return func(e *Echo) { e.delay = d }
}

// Echo streams the characters of "echo: " + userText one at a time.
// History is accepted but ignored. Safe for concurrent use.
type Echo struct {
	delay time.Duration
}

// NewEcho constructs an Echo streamer with the default 20ms character delay.
func NewEcho(opts ...EchoOption) *Echo {
	e := &Echo{delay: defaultTokenDelay}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Stream implements llm.Streamer.
func (e *Echo) Stream(ctx context.Context, userText string, _ []types.Message) (<-chan llm.Token, error) {
	reply := "echo: " + userText
	ch := make(chan llm.Token)
	go func() {
		defer close(ch)
		for _, r := range reply {
			if e.delay > 0 {
				select {
				case <-time.After(e.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- llm.Token{Text: string(r)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// StreamCall records a single invocation of [Scripted.Stream].
type StreamCall struct {
	UserText string
	History  []types.Message
}

// Scripted is a mock llm.Streamer that emits a preset token sequence.
// Zero values cause Stream to emit nothing and close the channel.
type Scripted struct {
	mu sync.Mutex

	// Tokens is the sequence of token texts emitted in order.
	Tokens []string

	// Err, if non-nil, is emitted as a terminal error token after Tokens.
	Err error

	// StartErr, if non-nil, is returned from Stream instead of a channel.
	StartErr error

	// Delay is an optional pause before each token.
	Delay time.Duration

	// Calls records every Stream invocation in order.
	Calls []StreamCall
}

// Stream implements llm.Streamer. It records the call, then emits Tokens
// followed by an optional terminal error token.
func (s *Scripted) Stream(ctx context.Context, userText string, history []types.Message) (<-chan llm.Token, error) {
	s.mu.Lock()
	hist := make([]types.Message, len(history))
	copy(hist, history)
	s.Calls = append(s.Calls, StreamCall{UserText: userText, History: hist})
	tokens := make([]string, len(s.Tokens))
	copy(tokens, s.Tokens)
	streamErr := s.Err
	startErr := s.StartErr
	delay := s.Delay
	s.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}

	ch := make(chan llm.Token)
	go func() {
		defer close(ch)
		for _, text := range tokens {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- llm.Token{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if streamErr != nil {
			select {
			case ch <- llm.Token{Err: streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// LastCall returns the most recent recorded call, or nil if Stream was never
// invoked.
func (s *Scripted) LastCall() *StreamCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Calls) == 0 {
		return nil
	}
	c := s.Calls[len(s.Calls)-1]
	return &c
}

// Package mock provides a call-recording tts.Client double for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/gimseonjin/realtime-character/pkg/provider/tts"
)

// Compile-time interface check.
var _ tts.Client = (*Client)(nil)

// SynthCall records a single invocation of [Client.Synthesize].
type SynthCall struct {
	Text   string
	Format tts.Format
}

// Client is a mock tts.Client. The zero value returns a small fixed payload
// for every call; set Err to make calls fail, or FailAfter to fail only from
// the n-th call on.
type Client struct {
	mu sync.Mutex

	// Audio is the payload returned on success. Nil means a fixed default.
	Audio []byte

	// Err, if non-nil, is returned from failing calls.
	Err error

	// FailAfter, when > 0, makes calls succeed until FailAfter-1 calls have
	// completed and fail from call number FailAfter on. Zero fails every call
	// once Err is set.
	FailAfter int

	// Delay is an optional pause per call, honoring ctx cancellation.
	Delay time.Duration

	// Calls records every invocation in order.
	Calls []SynthCall
}

// Synthesize implements tts.Client.
func (c *Client) Synthesize(ctx context.Context, text string, format tts.Format) ([]byte, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, SynthCall{Text: text, Format: format})
	n := len(c.Calls)
	audio := c.Audio
	err := c.Err
	failAfter := c.FailAfter
	delay := c.Delay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil && (failAfter == 0 || n >= failAfter) {
		return nil, err
	}
	if audio == nil {
		audio = []byte("audio:" + text)
	}
	return audio, nil
}

// Texts returns the recorded fragment texts in call order.
func (c *Client) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Calls))
	for i, call := range c.Calls {
		out[i] = call.Text
	}
	return out
}

// CallCount returns how many times Synthesize was invoked.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

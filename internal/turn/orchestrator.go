package turn

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gimseonjin/realtime-character/pkg/history"
	"github.com/gimseonjin/realtime-character/pkg/provider/llm"
	"github.com/gimseonjin/realtime-character/pkg/provider/tts"
)

const (
	// eventChanCap bounds the merged event stream; a slow consumer
	// backpressures both producers.
	eventChanCap = 64

	// fragmentChanCap bounds pending synthesis work; a slow TTS backend
	// backpressures chunking but token events keep flowing on their own
	// channel.
	fragmentChanCap = 8
)

// OrchestratorOption configures an Orchestrator during construction.
type OrchestratorOption func(*Orchestrator)

// WithAudioFormat sets the synthesis format for every fragment. Defaults to
// WAV.
func WithAudioFormat(f tts.Format) OrchestratorOption {
	return func(o *Orchestrator) { o.format = f }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(log *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = log }
}

// Orchestrator runs the pipeline for a single turn: a token producer feeds
// the event stream and the chunker, a synthesis producer turns fragments into
// audio chunk events, and both converge on one done event.
//
// An Orchestrator is built per turn from the session's resolved character and
// is single-use: Stream must be called at most once.
type Orchestrator struct {
	llm     llm.Streamer
	tts     tts.Client
	history *history.Cache
	format  tts.Format
	log     *slog.Logger

	mu        sync.Mutex
	assistant strings.Builder
	err       error
}

// NewOrchestrator wires one turn's providers together.
func NewOrchestrator(streamer llm.Streamer, synth tts.Client, hist *history.Cache, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		llm:     streamer,
		tts:     synth,
		history: hist,
		format:  tts.FormatWAV,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stream starts both producers and returns the merged event channel. The
// channel is closed once both producers have finished or ctx is cancelled;
// afterwards Err reports the turn's failure, if any.
//
// Token events appear strictly in model order and audio chunks strictly in
// fragment order; the two interleave arbitrarily. A done event is appended
// only when synthesis completed, carrying the trimmed assistant text. On an
// LLM failure the fragments produced so far are still synthesized and done
// carries the partial text; on a synthesis failure the pipeline stops without
// a done event and the partial text stays available via AssistantText.
func (o *Orchestrator) Stream(ctx context.Context, sessionID, userText string) <-chan Event {
	events := make(chan Event, eventChanCap)
	fragments := make(chan Fragment, fragmentChanCap)

	hist := o.history.GetHistory(ctx, sessionID)
	o.history.AppendUser(sessionID, userText)

	g, gctx := errgroup.WithContext(ctx)

	// Token producer: model tokens become token events and chunker input.
	// An LLM failure is recorded, not returned, so the group keeps running
	// and synthesis drains the fragments produced so far.
	g.Go(func() error {
		defer close(fragments)

		tokens, err := o.llm.Stream(gctx, userText, hist)
		if err != nil {
			o.setErr(err)
			return nil
		}

		var chunker Chunker
		for tok := range tokens {
			if tok.Err != nil {
				o.setErr(tok.Err)
				break
			}
			o.appendText(tok.Text)
			if !send(gctx, events, Event{Type: EventToken, Text: tok.Text}) {
				return gctx.Err()
			}
			for _, f := range chunker.Feed(tok.Text) {
				if !sendFragment(gctx, fragments, f) {
					return gctx.Err()
				}
			}
		}
		if f, ok := chunker.Flush(); ok {
			if !sendFragment(gctx, fragments, f) {
				return gctx.Err()
			}
		}
		return nil
	})

	// Synthesis producer: fragments become audio chunk events; the closed
	// fragment channel marks the end of the turn. A synthesis failure is
	// returned so the group context cancels the token producer too.
	g.Go(func() error {
		for f := range fragments {
			audio, err := o.tts.Synthesize(gctx, f.Text, o.format)
			if err != nil {
				o.setErr(err)
				return err
			}
			ev := Event{
				Type:   EventAudioChunk,
				Seq:    f.Seq,
				Format: o.format,
				Data:   base64.StdEncoding.EncodeToString(audio),
			}
			if !send(gctx, events, ev) {
				return gctx.Err()
			}
		}

		text := strings.TrimSpace(o.AssistantText())
		// An empty reply never reaches durable history.
		if text != "" {
			o.history.AppendAssistant(sessionID, text)
			o.history.FlushTurn(gctx, sessionID, userText, text)
		}

		var assistant *string
		if text != "" {
			assistant = &text
		}
		if !send(gctx, events, Event{Type: EventDone, AssistantText: assistant}) {
			return gctx.Err()
		}
		return nil
	})

	go func() {
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			o.log.Debug("turn pipeline stopped early",
				"session_id", sessionID, "error", err)
		}
		close(events)
	}()
	return events
}

// Err returns the first provider failure recorded during the turn, or nil.
// Valid once the event channel has closed.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// AssistantText returns the text accumulated so far, untrimmed. Useful for
// finalizing a turn whose pipeline failed before its done event.
func (o *Orchestrator) AssistantText() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.assistant.String()
}

func (o *Orchestrator) appendText(s string) {
	o.mu.Lock()
	o.assistant.WriteString(s)
	o.mu.Unlock()
}

func (o *Orchestrator) setErr(err error) {
	o.mu.Lock()
	if o.err == nil {
		o.err = err
	}
	o.mu.Unlock()
}

func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sendFragment(ctx context.Context, ch chan<- Fragment, f Fragment) bool {
	select {
	case ch <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

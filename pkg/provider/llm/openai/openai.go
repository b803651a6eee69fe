// Package openai provides an llm.Streamer backed by an OpenAI-compatible
// chat-completions endpoint.
//
// The streamer owns its server-sent-events parse loop instead of delegating to
// an SDK: the gateway's contract requires malformed event lines to be skipped
// silently and a connection that closes before the "[DONE]" terminator to be
// reported as an upstream failure, neither of which SDK stream iterators
// expose.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gimseonjin/realtime-character/pkg/provider/llm"
	"github.com/gimseonjin/realtime-character/pkg/types"
)

// Compile-time interface check.
var _ llm.Streamer = (*Streamer)(nil)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second

	// maxSSELineBytes bounds a single "data:" line; delta payloads are tiny
	// but a generous cap avoids scanner failures on long JSON events.
	maxSSELineBytes = 1 << 20

	// tokenChanBuf is the buffer depth of the returned token channel.
	tokenChanBuf = 32
)

// Option is a functional option for configuring a Streamer.
type Option func(*Streamer)

// WithBaseURL overrides the default OpenAI API base URL. The value should not
// include the /chat/completions suffix.
func WithBaseURL(url string) Option {
	return func(s *Streamer) { s.baseURL = strings.TrimRight(url, "/") }
}

// WithSystemPrompt prepends a system-role message to every request.
func WithSystemPrompt(prompt string) Option {
	return func(s *Streamer) { s.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature sent with every request.
func WithTemperature(t float64) Option {
	return func(s *Streamer) {
		s.temperature = t
		s.hasTemperature = true
	}
}

// WithMaxTokens caps the number of completion tokens per request.
// Zero (the default) omits the field and uses the model default.
func WithMaxTokens(n int) Option {
	return func(s *Streamer) { s.maxTokens = n }
}

// WithTimeout overrides the default 60s end-to-end request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Streamer) { s.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client, e.g. to share a pooled
// transport across streamers.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Streamer) { s.httpClient = c }
}

// Streamer implements llm.Streamer against a chat-completions SSE endpoint.
// Safe for concurrent use; each Stream call issues an independent request.
type Streamer struct {
	apiKey         string
	model          string
	baseURL        string
	systemPrompt   string
	temperature    float64
	hasTemperature bool
	maxTokens      int
	httpClient     *http.Client
}

// New constructs a Streamer. apiKey and model must be non-empty.
func New(apiKey, model string, opts ...Option) (*Streamer, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	s := &Streamer{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ---- request/response wire types ----

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type chatEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream implements llm.Streamer.
func (s *Streamer) Stream(ctx context.Context, userText string, history []types.Message) (<-chan llm.Token, error) {
	body := chatRequest{
		Model:     s.model,
		Stream:    true,
		MaxTokens: s.maxTokens,
	}
	if s.hasTemperature {
		t := s.temperature
		body.Temperature = &t
	}
	if s.systemPrompt != "" {
		body.Messages = append(body.Messages, types.Message{Role: types.RoleSystem, Content: s.systemPrompt})
	}
	body.Messages = append(body.Messages, history...)
	body.Messages = append(body.Messages, types.Message{Role: types.RoleUser, Content: userText})

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	ch := make(chan llm.Token, tokenChanBuf)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		if err := s.parseEvents(ctx, resp.Body, ch); err != nil {
			// A consumer-side cancellation is not a stream failure.
			if ctx.Err() != nil {
				return
			}
			select {
			case ch <- llm.Token{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// parseEvents reads SSE lines from r, forwarding non-empty delta content as
// tokens. It returns nil once the "[DONE]" terminator is seen, and an error
// when the stream ends or fails before it. Every send honours ctx so an
// abandoned consumer cannot strand the parse goroutine on a full channel.
func (s *Streamer) parseEvents(ctx context.Context, r io.Reader, ch chan<- llm.Token) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxSSELineBytes)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}

		var ev chatEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			// Malformed events are skipped; the stream stays live.
			continue
		}
		if len(ev.Choices) == 0 {
			continue
		}
		if content := ev.Choices[0].Delta.Content; content != "" {
			select {
			case ch <- llm.Token{Text: content}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := sc.Err(); err != nil {
		return classifyTransportErr(err)
	}
	return &llm.Error{Kind: llm.KindUpstream, Msg: "stream closed before [DONE]"}
}

// statusError converts a non-2xx response into a classified *llm.Error,
// including a snippet of the body for diagnostics.
func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &llm.Error{
		Kind:   llm.KindForStatus(resp.StatusCode),
		Status: resp.StatusCode,
		Msg:    strings.TrimSpace(string(snippet)),
	}
}

// classifyTransportErr maps a transport-level failure onto the timeout or
// network error kind.
func classifyTransportErr(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &llm.Error{Kind: llm.KindTimeout, Err: err}
	}
	return &llm.Error{Kind: llm.KindNetwork, Err: err}
}

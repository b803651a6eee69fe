// Package openai provides a tts.Client backed by an OpenAI-compatible
// speech endpoint.
package openai

import (
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

	"github.com/gimseonjin/realtime-character/pkg/provider/tts"
)

// Compile-time interface check.
var _ tts.Client = (*Client)(nil)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 30 * time.Second
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the default OpenAI API base URL. The value should not
// include the /audio/speech suffix.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithTimeout overrides the default 30s per-synthesis timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client implements tts.Client against a speech endpoint. The voice is fixed
// at construction. Safe for concurrent use.
type Client struct {
	apiKey     string
	model      string
	voice      string
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client. apiKey, model and voice must be non-empty.
func New(apiKey, model, voice string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	if voice == "" {
		return nil, errors.New("openai: voice must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		voice:      voice,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize implements tts.Client.
func (c *Client) Synthesize(ctx context.Context, text string, format tts.Format) ([]byte, error) {
	if !format.IsValid() {
		return nil, &tts.Error{Kind: tts.KindUpstream, Msg: "unsupported format " + string(format)}
	}

	payload, err := json.Marshal(speechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: string(format),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &tts.Error{
			Kind:   tts.KindForStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Msg:    strings.TrimSpace(string(snippet)),
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	return audio, nil
}

// classifyTransportErr maps a transport-level failure onto the timeout or
// network error kind.
func classifyTransportErr(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &tts.Error{Kind: tts.KindTimeout, Err: err}
	}
	return &tts.Error{Kind: tts.KindNetwork, Err: err}
}

package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gimseonjin/realtime-character/pkg/provider/llm"
	"github.com/gimseonjin/realtime-character/pkg/types"
)

// sseHandler writes the given raw SSE lines and optionally the [DONE]
// terminator.
func sseHandler(t *testing.T, lines []string, done bool) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
		}
		if done {
			fmt.Fprint(w, "data: [DONE]\n\n")
		}
	}
}

func deltaLine(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`, content)
}

func collect(t *testing.T, ch <-chan llm.Token) (string, error) {
	t.Helper()
	var sb strings.Builder
	for tok := range ch {
		if tok.Err != nil {
			return sb.String(), tok.Err
		}
		sb.WriteString(tok.Text)
	}
	return sb.String(), nil
}

func TestStreamJoinsDeltas(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(sseHandler(t, []string{
		deltaLine("Hel"),
		deltaLine("lo"),
		deltaLine("!"),
	}, true))
	defer srv.Close()

	s, err := New("key", "gpt-4o-mini", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := s.Stream(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got, streamErr := collect(t, ch)
	if streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}
	if got != "Hello!" {
		t.Fatalf("want %q, got %q", "Hello!", got)
	}
}

func TestStreamSkipsMalformedAndEmptyEvents(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(sseHandler(t, []string{
		`data: {not valid json`,
		deltaLine("ok"),
		`data: {"choices":[]}`,
		deltaLine(""),
		deltaLine(" fine"),
		`: heartbeat comment`,
	}, true))
	defer srv.Close()

	s, err := New("key", "gpt-4o-mini", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := s.Stream(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got, streamErr := collect(t, ch)
	if streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}
	if got != "ok fine" {
		t.Fatalf("want %q, got %q", "ok fine", got)
	}
}

func TestStreamEOFBeforeDoneIsUpstream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(sseHandler(t, []string{
		deltaLine("partial"),
	}, false))
	defer srv.Close()

	s, err := New("key", "gpt-4o-mini", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := s.Stream(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got, streamErr := collect(t, ch)
	if got != "partial" {
		t.Fatalf("want partial text %q, got %q", "partial", got)
	}
	var lerr *llm.Error
	if !errors.As(streamErr, &lerr) || lerr.Kind != llm.KindUpstream {
		t.Fatalf("want upstream error, got %v", streamErr)
	}
}

func TestStreamStatusErrorKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   llm.Kind
	}{
		{http.StatusUnauthorized, llm.KindAuth},
		{http.StatusTooManyRequests, llm.KindRateLimit},
		{http.StatusInternalServerError, llm.KindUpstream},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			s, err := New("key", "gpt-4o-mini", WithBaseURL(srv.URL))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = s.Stream(context.Background(), "hi", nil)
			var lerr *llm.Error
			if !errors.As(err, &lerr) {
				t.Fatalf("want *llm.Error, got %v", err)
			}
			if lerr.Kind != tc.kind || lerr.Status != tc.status {
				t.Fatalf("want kind=%s status=%d, got kind=%s status=%d", tc.kind, tc.status, lerr.Kind, lerr.Status)
			}
		})
	}
}

func TestStreamTimeoutKind(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Outlast the client timeout, then return so the server can close.
		io.Copy(io.Discard, r.Body)
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	s, err := New("key", "gpt-4o-mini", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.Stream(context.Background(), "hi", nil)
	var lerr *llm.Error
	if !errors.As(err, &lerr) || lerr.Kind != llm.KindTimeout {
		t.Fatalf("want timeout error, got %v", err)
	}
}

func TestStreamCancelReleasesParser(t *testing.T) {
	// Not parallel: inspects the process-wide goroutine dump.

	lines := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		lines = append(lines, deltaLine("x"))
	}
	srv := httptest.NewServer(sseHandler(t, lines, true))
	defer srv.Close()

	s, err := New("key", "gpt-4o-mini", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Stream(ctx, "hi", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	<-ch
	cancel()

	// The channel is abandoned from here on; the parse goroutine must exit
	// on its own instead of blocking on the full token buffer.
	deadline := time.Now().Add(2 * time.Second)
	for {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		if !bytes.Contains(buf[:n], []byte("parseEvents")) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("parse goroutine still running after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamNetworkKind(t *testing.T) {
	t.Parallel()

	s, err := New("key", "gpt-4o-mini", WithBaseURL("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.Stream(context.Background(), "hi", nil)
	var lerr *llm.Error
	if !errors.As(err, &lerr) || lerr.Kind != llm.KindNetwork {
		t.Fatalf("want network error, got %v", err)
	}
}

func TestStreamRequestShape(t *testing.T) {
	t.Parallel()

	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	s, err := New("secret", "gpt-4o-mini",
		WithBaseURL(srv.URL),
		WithSystemPrompt("You are terse."),
		WithTemperature(0.3),
		WithMaxTokens(128),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	history := []types.Message{
		{Role: types.RoleUser, Content: "earlier"},
		{Role: types.RoleAssistant, Content: "reply"},
	}
	ch, err := s.Stream(context.Background(), "now", history)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for range ch {
	}

	if auth != "Bearer secret" {
		t.Fatalf("want bearer auth, got %q", auth)
	}
	if !got.Stream {
		t.Fatal("stream flag not set")
	}
	if got.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q", got.Model)
	}
	if got.Temperature == nil || *got.Temperature != 0.3 {
		t.Fatalf("temperature = %v", got.Temperature)
	}
	if got.MaxTokens != 128 {
		t.Fatalf("max_tokens = %d", got.MaxTokens)
	}
	wantRoles := []types.Role{types.RoleSystem, types.RoleUser, types.RoleAssistant, types.RoleUser}
	if len(got.Messages) != len(wantRoles) {
		t.Fatalf("want %d messages, got %d: %+v", len(wantRoles), len(got.Messages), got.Messages)
	}
	for i, r := range wantRoles {
		if got.Messages[i].Role != r {
			t.Fatalf("message %d role = %s, want %s", i, got.Messages[i].Role, r)
		}
	}
	if got.Messages[3].Content != "now" {
		t.Fatalf("final message content = %q", got.Messages[3].Content)
	}
}

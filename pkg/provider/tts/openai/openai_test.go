package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gimseonjin/realtime-character/pkg/provider/tts"
)

func TestSynthesizeReturnsBody(t *testing.T) {
	t.Parallel()

	var got speechRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write([]byte("binary-audio"))
	}))
	defer srv.Close()

	c, err := New("secret", "tts-1", "alloy", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	audio, err := c.Synthesize(context.Background(), "Hello.", tts.FormatMP3)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if string(audio) != "binary-audio" {
		t.Fatalf("audio = %q", audio)
	}
	if auth != "Bearer secret" {
		t.Fatalf("auth = %q", auth)
	}
	want := speechRequest{Model: "tts-1", Input: "Hello.", Voice: "alloy", ResponseFormat: "mp3"}
	if got != want {
		t.Fatalf("request = %+v, want %+v", got, want)
	}
}

func TestSynthesizeStatusErrorKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   tts.Kind
	}{
		{http.StatusUnauthorized, tts.KindAuth},
		{http.StatusTooManyRequests, tts.KindRateLimit},
		{http.StatusBadGateway, tts.KindUpstream},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			c, err := New("key", "tts-1", "alloy", WithBaseURL(srv.URL))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.Synthesize(context.Background(), "hi", tts.FormatWAV)
			var terr *tts.Error
			if !errors.As(err, &terr) {
				t.Fatalf("want *tts.Error, got %v", err)
			}
			if terr.Kind != tc.kind || terr.Status != tc.status {
				t.Fatalf("want kind=%s status=%d, got kind=%s status=%d", tc.kind, tc.status, terr.Kind, terr.Status)
			}
		})
	}
}

func TestSynthesizeTimeoutKind(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Outlast the client timeout, then return so the server can close.
		io.Copy(io.Discard, r.Body)
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := New("key", "tts-1", "alloy", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Synthesize(context.Background(), "hi", tts.FormatWAV)
	var terr *tts.Error
	if !errors.As(err, &terr) || terr.Kind != tts.KindTimeout {
		t.Fatalf("want timeout error, got %v", err)
	}
}

func TestSynthesizeNetworkKind(t *testing.T) {
	t.Parallel()

	c, err := New("key", "tts-1", "alloy", WithBaseURL("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Synthesize(context.Background(), "hi", tts.FormatWAV)
	var terr *tts.Error
	if !errors.As(err, &terr) || terr.Kind != tts.KindNetwork {
		t.Fatalf("want network error, got %v", err)
	}
}

func TestSynthesizeRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	c, err := New("key", "tts-1", "alloy")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Synthesize(context.Background(), "hi", tts.Format("ogg"))
	var terr *tts.Error
	if !errors.As(err, &terr) || terr.Kind != tts.KindUpstream {
		t.Fatalf("want upstream error for bad format, got %v", err)
	}
}

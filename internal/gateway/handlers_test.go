package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/gimseonjin/realtime-character/internal/observe"
	"github.com/gimseonjin/realtime-character/internal/turn"
	"github.com/gimseonjin/realtime-character/pkg/store"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	mu         sync.Mutex
	characters map[int64]store.Character
	sessions   map[string]store.Session
	turns      map[string][]store.Turn
	nextCharID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		characters: make(map[int64]store.Character),
		sessions:   make(map[string]store.Session),
		turns:      make(map[string][]store.Turn),
	}
}

func (f *fakeStore) CreateCharacter(_ context.Context, nc store.NewCharacter) (store.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCharID++
	if nc.SystemPrompt == "" {
		nc.SystemPrompt = "You are a helpful assistant."
	}
	now := time.Now()
	c := store.Character{
		ID: f.nextCharID, Name: nc.Name, SystemPrompt: nc.SystemPrompt,
		Model: nc.Model, Voice: nc.Voice, CreatedAt: now, UpdatedAt: now,
	}
	f.characters[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetCharacter(_ context.Context, id int64) (store.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.characters[id]
	if !ok {
		return store.Character{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListCharacters(_ context.Context) ([]store.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Character{}
	for id := int64(1); id <= f.nextCharID; id++ {
		if c, ok := f.characters[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateCharacter(_ context.Context, id int64, upd store.CharacterUpdate) (store.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.characters[id]
	if !ok {
		return store.Character{}, store.ErrNotFound
	}
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.SystemPrompt != nil {
		c.SystemPrompt = *upd.SystemPrompt
	}
	if upd.Model != nil {
		c.Model = *upd.Model
	}
	if upd.Voice != nil {
		c.Voice = *upd.Voice
	}
	c.UpdatedAt = time.Now()
	f.characters[id] = c
	return c, nil
}

func (f *fakeStore) DeleteCharacter(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.characters[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.characters, id)
	for sid, sess := range f.sessions {
		if sess.CharacterID != nil && *sess.CharacterID == id {
			sess.CharacterID = nil
			f.sessions[sid] = sess
		}
	}
	return nil
}

func (f *fakeStore) CreateSession(_ context.Context, sessionID string, characterID *int64) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	s := store.Session{SessionID: sessionID, CharacterID: characterID, CreatedAt: now, LastSeenAt: now}
	f.sessions[sessionID] = s
	return s, nil
}

func (f *fakeStore) GetSession(_ context.Context, sessionID string) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) UpsertSession(_ context.Context, sessionID string) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		s = store.Session{SessionID: sessionID, CreatedAt: time.Now()}
	}
	s.LastSeenAt = time.Now()
	f.sessions[sessionID] = s
	return s, nil
}

func (f *fakeStore) ListTurns(_ context.Context, sessionID string) ([]store.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]store.Turn{}, f.turns[sessionID]...)
	return out, nil
}

// fakeRunner replays a scripted event sequence per ProcessMessage call.
type fakeRunner struct {
	events []turn.Event
	err    error
}

func (r *fakeRunner) ProcessMessage(ctx context.Context, sessionID, userText string) (<-chan turn.Event, error) {
	if r.err != nil {
		return nil, r.err
	}
	ch := make(chan turn.Event, len(r.events))
	for _, ev := range r.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, fs *fakeStore, runner TurnRunner) *httptest.Server {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	srv := httptest.NewServer(New(fs, runner, WithMetrics(m)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestCharacterCRUD(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	srv := newTestServer(t, fs, &fakeRunner{})

	// Create.
	resp := doJSON(t, http.MethodPost, srv.URL+"/characters", map[string]string{
		"name": "guide", "model": "gpt-4o-mini", "voice": "alloy",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decode[store.Character](t, resp)
	if created.ID == 0 || created.Name != "guide" {
		t.Fatalf("created = %+v", created)
	}
	if created.SystemPrompt != "You are a helpful assistant." {
		t.Fatalf("default system prompt = %q", created.SystemPrompt)
	}

	// Get.
	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/characters/%d", srv.URL, created.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	// Patch.
	resp = doJSON(t, http.MethodPatch, fmt.Sprintf("%s/characters/%d", srv.URL, created.ID), map[string]string{
		"voice": "verse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	patched := decode[store.Character](t, resp)
	if patched.Voice != "verse" || patched.Name != "guide" {
		t.Fatalf("patched = %+v", patched)
	}

	// List.
	resp = doJSON(t, http.MethodGet, srv.URL+"/characters", nil)
	if got := decode[[]store.Character](t, resp); len(got) != 1 {
		t.Fatalf("list = %+v", got)
	}

	// Delete.
	resp = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/characters/%d", srv.URL, created.ID), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/characters/%d", srv.URL, created.ID), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
}

func TestCreateCharacterRequiresName(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeStore(), &fakeRunner{})
	resp := doJSON(t, http.MethodPost, srv.URL+"/characters", map[string]string{"voice": "alloy"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCreateSessionGeneratesID(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	srv := newTestServer(t, fs, &fakeRunner{})

	ch, _ := fs.CreateCharacter(context.Background(), store.NewCharacter{Name: "guide"})
	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]int64{"character_id": ch.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	sess := decode[store.Session](t, resp)
	if !strings.HasPrefix(sess.SessionID, "session-") {
		t.Fatalf("session id = %q", sess.SessionID)
	}
	if sess.CharacterID == nil || *sess.CharacterID != ch.ID {
		t.Fatalf("character binding = %v", sess.CharacterID)
	}
}

func TestCreateSessionUnknownCharacter(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeStore(), &fakeRunner{})
	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]int64{"character_id": 42})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTouchSessionUpserts(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	srv := newTestServer(t, fs, &fakeRunner{})
	fs.CreateSession(context.Background(), "session-abc", nil)

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions/session-abc/touch", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("touch status = %d", resp.StatusCode)
	}
	if sess := decode[store.Session](t, resp); sess.SessionID != "session-abc" {
		t.Fatalf("touched session = %+v", sess)
	}

	// Touching an unknown id creates the session.
	resp = doJSON(t, http.MethodPost, srv.URL+"/sessions/session-new/touch", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("touch new status = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/sessions/session-new", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get after touch status = %d", resp.StatusCode)
	}
}

func TestListTurns(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	srv := newTestServer(t, fs, &fakeRunner{})
	fs.CreateSession(context.Background(), "session-abc", nil)
	text := "echo: hi"
	fs.mu.Lock()
	fs.turns["session-abc"] = []store.Turn{{ID: 1, SessionID: "session-abc", UserText: "hi", AssistantText: &text}}
	fs.mu.Unlock()

	resp := doJSON(t, http.MethodGet, srv.URL+"/sessions/session-abc/turns", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	turns := decode[[]store.Turn](t, resp)
	if len(turns) != 1 || turns[0].UserText != "hi" {
		t.Fatalf("turns = %+v", turns)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/sessions/session-gone/turns", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing session status = %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeStore(), &fakeRunner{})
	resp := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newFakeStore(), &fakeRunner{})
	resp := doJSON(t, http.MethodGet, srv.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

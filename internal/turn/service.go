package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/gimseonjin/realtime-character/internal/observe"
	"github.com/gimseonjin/realtime-character/pkg/provider/llm"
	"github.com/gimseonjin/realtime-character/pkg/provider/tts"
	"github.com/gimseonjin/realtime-character/pkg/store"
)

// Compile-time interface check.
var _ Store = (*store.Store)(nil)

// Precondition failures surfaced before any streaming begins.
var (
	// ErrSessionNotFound means the session id resolves to no stored session.
	ErrSessionNotFound = errors.New("turn: session not found")

	// ErrCharacterNotBound means the session has no usable character, either
	// never bound or since deleted.
	ErrCharacterNotBound = errors.New("turn: session has no bound character")
)

// Store is the persistence surface the turn service needs. *store.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
	TouchSession(ctx context.Context, sessionID string) error
	GetCharacter(ctx context.Context, id int64) (store.Character, error)
	CreateTurn(ctx context.Context, sessionID, userText string) (store.Turn, error)
	SetTurnTTFT(ctx context.Context, id, millis int64) error
	SetTurnTTAF(ctx context.Context, id, millis int64) error
	FinalizeTurn(ctx context.Context, id int64, assistantText *string) error
}

// OrchestratorFactory builds a fresh per-turn orchestrator from the session's
// resolved character. The character's model, system prompt and voice select
// and configure the providers.
type OrchestratorFactory func(ch store.Character) *Orchestrator

// ServiceOption configures a Service during construction.
type ServiceOption func(*Service)

// WithServiceLogger sets the service's logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithMetrics sets the metric instruments the service records into.
func WithMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// Service drives the lifecycle of one turn: it resolves the session and its
// character, creates the turn row, forwards the orchestrator's events while
// instrumenting first-token and first-audio latency, and finalizes the row
// exactly once on every exit path.
type Service struct {
	store   Store
	factory OrchestratorFactory
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewService constructs a Service.
func NewService(st Store, factory OrchestratorFactory, opts ...ServiceOption) *Service {
	s := &Service{
		store:   st,
		factory: factory,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ProcessMessage runs one turn for the utterance and returns its ordered
// event stream. The error return covers precondition and storage failures
// only; once a channel is returned, failures surface as a terminal error
// event. Cancelling ctx tears down both producers and still finalizes the
// turn row.
func (s *Service) ProcessMessage(ctx context.Context, sessionID, userText string) (<-chan Event, error) {
	userText = sanitizeText(userText)

	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.CharacterID == nil {
		return nil, ErrCharacterNotBound
	}
	character, err := s.store.GetCharacter(ctx, *sess.CharacterID)
	if errors.Is(err, store.ErrNotFound) {
		// The character was deleted after binding; the FK set-null may not
		// have been observed yet.
		return nil, ErrCharacterNotBound
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.TouchSession(ctx, sessionID); err != nil {
		return nil, err
	}
	row, err := s.store.CreateTurn(ctx, sessionID, userText)
	if err != nil {
		return nil, err
	}

	orch := s.factory(character)
	s.log.Info("turn started",
		"session_id", sessionID, "turn_id", row.ID, "character_id", character.ID)
	t0 := time.Now()
	src := orch.Stream(ctx, sessionID, userText)

	out := make(chan Event, eventChanCap)
	go s.forward(ctx, row.ID, t0, orch, src, out)
	return out, nil
}

// forward relays orchestrator events to the caller, recording TTFT/TTAF on
// first occurrence and finalizing the turn row when the stream ends.
func (s *Service) forward(ctx context.Context, turnID int64, t0 time.Time, orch *Orchestrator, src <-chan Event, out chan<- Event) {
	defer close(out)

	// Finalization must survive caller cancellation.
	storeCtx := context.WithoutCancel(ctx)

	var (
		gotToken  bool
		gotAudio  bool
		doneText  *string
		sawDone   bool
		finalized bool
	)
	finalize := func(text *string, status string) {
		if finalized {
			return
		}
		finalized = true
		if err := s.store.FinalizeTurn(storeCtx, turnID, text); err != nil {
			s.log.Error("finalize turn failed", "turn_id", turnID, "error", err)
		}
		s.metrics.RecordTurn(storeCtx, status)
		s.log.Info("turn completed",
			"turn_id", turnID, "status", status,
			"duration_ms", time.Since(t0).Milliseconds())
	}

	for ev := range src {
		switch ev.Type {
		case EventToken:
			if !gotToken {
				gotToken = true
				ms := time.Since(t0).Milliseconds()
				if err := s.store.SetTurnTTFT(storeCtx, turnID, ms); err != nil {
					s.log.Error("record ttft failed", "turn_id", turnID, "error", err)
				}
				s.metrics.RecordTTFT(storeCtx, ms)
			}
		case EventAudioChunk:
			if !gotAudio {
				gotAudio = true
				ms := time.Since(t0).Milliseconds()
				if err := s.store.SetTurnTTAF(storeCtx, turnID, ms); err != nil {
					s.log.Error("record ttaf failed", "turn_id", turnID, "error", err)
				}
				s.metrics.RecordTTAF(storeCtx, ms)
			}
		case EventDone:
			sawDone = true
			doneText = ev.AssistantText
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			finalize(partialText(orch), "cancelled")
			return
		}
	}

	if err := orch.Err(); err != nil {
		text := doneText
		if !sawDone {
			text = partialText(orch)
		}
		finalize(text, "error")
		s.recordProviderError(storeCtx, err)
		s.log.Warn("turn failed", "turn_id", turnID, "error", err)
		select {
		case out <- Event{Type: EventError, Message: err.Error()}:
		case <-ctx.Done():
		}
		return
	}
	if ctx.Err() != nil && !sawDone {
		finalize(partialText(orch), "cancelled")
		return
	}
	finalize(doneText, "ok")
}

// recordProviderError attributes a turn failure to its provider and kind
// when the error carries that classification.
func (s *Service) recordProviderError(ctx context.Context, err error) {
	var lerr *llm.Error
	if errors.As(err, &lerr) {
		s.metrics.RecordProviderError(ctx, "llm", string(lerr.Kind))
		return
	}
	var terr *tts.Error
	if errors.As(err, &terr) {
		s.metrics.RecordProviderError(ctx, "tts", string(terr.Kind))
	}
}

// partialText converts the accumulated assistant text into the nullable
// column form: trimmed, nil when empty.
func partialText(orch *Orchestrator) *string {
	text := strings.TrimSpace(orch.AssistantText())
	if text == "" {
		return nil
	}
	return &text
}

// sanitizeText strips non-printable control characters from an utterance,
// keeping whitespace intact.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Package gateway exposes the gateway's outward surface: the /ws websocket
// endpoint that streams turn events, the REST API for characters, sessions
// and turns, and the health and metrics endpoints.
package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gimseonjin/realtime-character/internal/health"
	"github.com/gimseonjin/realtime-character/internal/observe"
	"github.com/gimseonjin/realtime-character/internal/turn"
	"github.com/gimseonjin/realtime-character/pkg/store"
)

// Store is the persistence surface the HTTP handlers need. *store.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	CreateCharacter(ctx context.Context, nc store.NewCharacter) (store.Character, error)
	GetCharacter(ctx context.Context, id int64) (store.Character, error)
	ListCharacters(ctx context.Context) ([]store.Character, error)
	UpdateCharacter(ctx context.Context, id int64, upd store.CharacterUpdate) (store.Character, error)
	DeleteCharacter(ctx context.Context, id int64) error
	CreateSession(ctx context.Context, sessionID string, characterID *int64) (store.Session, error)
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
	UpsertSession(ctx context.Context, sessionID string) (store.Session, error)
	ListTurns(ctx context.Context, sessionID string) ([]store.Turn, error)
}

// Compile-time interface check.
var _ Store = (*store.Store)(nil)

// TurnRunner runs one turn and streams its events. *turn.Service satisfies
// it.
type TurnRunner interface {
	ProcessMessage(ctx context.Context, sessionID, userText string) (<-chan turn.Event, error)
}

// Option configures a Server during construction.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics sets the metric instruments the server records into.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheckers registers readiness probes served on /readyz.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.health = health.New(checkers...) }
}

// Server holds the gateway's HTTP handlers.
type Server struct {
	store   Store
	turns   TurnRunner
	metrics *observe.Metrics
	health  *health.Handler
	log     *slog.Logger
}

// New constructs a Server around the store and turn runner.
func New(st Store, turns TurnRunner, opts ...Option) *Server {
	s := &Server{
		store:   st,
		turns:   turns,
		metrics: observe.DefaultMetrics(),
		health:  health.New(),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("POST /characters", s.handleCreateCharacter)
	mux.HandleFunc("GET /characters", s.handleListCharacters)
	mux.HandleFunc("GET /characters/{id}", s.handleGetCharacter)
	mux.HandleFunc("PATCH /characters/{id}", s.handleUpdateCharacter)
	mux.HandleFunc("DELETE /characters/{id}", s.handleDeleteCharacter)

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{id}/touch", s.handleTouchSession)
	mux.HandleFunc("GET /sessions/{id}/turns", s.handleListTurns)

	mux.HandleFunc("GET /healthz", s.health.Healthz)
	mux.HandleFunc("GET /readyz", s.health.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

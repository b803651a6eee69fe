// Package history maintains the rolling per-session conversation history that
// feeds the LLM on every turn.
//
// The external redis list is authoritative; an in-process mirror doubles as a
// warm cache and as a fallback so a cache outage degrades history instead of
// failing turns. Entries live under "session:<id>:history", newest-first,
// bounded to two messages per retained turn.
package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gimseonjin/realtime-character/pkg/types"
)

const (
	// DefaultMaxTurns bounds how many user/assistant exchanges are retained.
	DefaultMaxTurns = 10

	// defaultTTL keeps idle session history for a day.
	defaultTTL = 24 * time.Hour
)

// Option configures a Cache during construction.
type Option func(*Cache)

// WithMaxTurns overrides the retained-turn bound. Values < 1 are ignored.
func WithMaxTurns(n int) Option {
	return func(c *Cache) {
		if n >= 1 {
			c.maxTurns = n
		}
	}
}

// WithTTL overrides the 24h expiry applied on every flush.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithLogger sets the logger used to report swallowed cache failures.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// Cache is a bounded per-session message history backed by a redis list with
// an in-process mirror. Safe for concurrent use across sessions; the
// surrounding system runs at most one active turn per session.
type Cache struct {
	rdb      redis.UniversalClient
	maxTurns int
	ttl      time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	mirror map[string][]types.Message
}

// New constructs a Cache on top of an existing redis client.
func New(rdb redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{
		rdb:      rdb,
		maxTurns: DefaultMaxTurns,
		ttl:      defaultTTL,
		log:      slog.Default(),
		mirror:   make(map[string][]types.Message),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ping probes the external cache. Used by the readiness endpoint; a failure
// here never blocks turns, only reports degraded history durability.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func key(sessionID string) string {
	return "session:" + sessionID + ":history"
}

// capacity is the entry bound of both the redis list and the mirror ring.
func (c *Cache) capacity() int { return 2 * c.maxTurns }

// GetHistory returns the session's messages in chronological order. It reads
// the external cache first and refreshes the mirror from it; if the cache is
// unreachable it returns the mirror instead. It never fails.
func (c *Cache) GetHistory(ctx context.Context, sessionID string) []types.Message {
	raw, err := c.rdb.LRange(ctx, key(sessionID), 0, int64(c.capacity())-1).Result()
	if err != nil {
		c.log.Warn("history cache read failed, using in-process mirror",
			"session_id", sessionID, "error", err)
		return c.mirrorCopy(sessionID)
	}

	// Stored newest-first; walk backwards to rebuild chronological order.
	msgs := make([]types.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m types.Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			c.log.Warn("dropping undecodable history entry",
				"session_id", sessionID, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}

	c.mu.Lock()
	c.mirror[sessionID] = append([]types.Message(nil), msgs...)
	c.mu.Unlock()
	return msgs
}

// AppendUser records a user message in the in-process mirror only.
func (c *Cache) AppendUser(sessionID, text string) {
	c.appendLocal(sessionID, types.Message{Role: types.RoleUser, Content: text})
}

// AppendAssistant records an assistant message in the in-process mirror only.
func (c *Cache) AppendAssistant(sessionID, text string) {
	c.appendLocal(sessionID, types.Message{Role: types.RoleAssistant, Content: text})
}

func (c *Cache) appendLocal(sessionID string, m types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ring := append(c.mirror[sessionID], m)
	if over := len(ring) - c.capacity(); over > 0 {
		ring = ring[over:]
	}
	c.mirror[sessionID] = ring
}

// FlushTurn durably records one completed turn: it pushes the user message
// then the assistant message to the head of the external list, trims the list
// to capacity and resets the TTL. Cache failures are logged and swallowed;
// the mirror keeps serving history for the rest of the process.
func (c *Cache) FlushTurn(ctx context.Context, sessionID, userText, assistantText string) {
	userJSON, err := json.Marshal(types.Message{Role: types.RoleUser, Content: userText})
	if err != nil {
		c.log.Warn("history flush skipped", "session_id", sessionID, "error", err)
		return
	}
	assistantJSON, err := json.Marshal(types.Message{Role: types.RoleAssistant, Content: assistantText})
	if err != nil {
		c.log.Warn("history flush skipped", "session_id", sessionID, "error", err)
		return
	}

	k := key(sessionID)
	pipe := c.rdb.TxPipeline()
	// Push user first so the newest-first list reads [assistant, user].
	pipe.LPush(ctx, k, userJSON, assistantJSON)
	pipe.LTrim(ctx, k, 0, int64(c.capacity())-1)
	pipe.Expire(ctx, k, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("history cache flush failed, mirror remains source of truth",
			"session_id", sessionID, "error", err)
	}
}

func (c *Cache) mirrorCopy(sessionID string) []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message(nil), c.mirror[sessionID]...)
}

package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/gimseonjin/realtime-character/internal/turn"
)

// maxUtteranceBytes bounds a single inbound websocket message.
const maxUtteranceBytes = 256 << 10

// clientMessage is one user utterance sent over the websocket.
type clientMessage struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// Outbound wire frames, one struct per event type so each frame carries only
// its own fields.
type tokenFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type audioFrame struct {
	Type   string `json:"type"`
	Seq    int    `json:"seq"`
	Format string `json:"format"`
	Data   string `json:"data"`
}

type doneFrame struct {
	Type          string  `json:"type"`
	AssistantText *string `json:"assistant_text"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func wireFrame(ev turn.Event) any {
	switch ev.Type {
	case turn.EventToken:
		return tokenFrame{Type: "token", Text: ev.Text}
	case turn.EventAudioChunk:
		return audioFrame{Type: "audio_chunk", Seq: ev.Seq, Format: string(ev.Format), Data: ev.Data}
	case turn.EventDone:
		return doneFrame{Type: "done", AssistantText: ev.AssistantText}
	default:
		return errorFrame{Type: "error", Message: ev.Message}
	}
}

// handleWS upgrades the connection and serves utterances sequentially: one
// turn's events are fully streamed before the next utterance is read, which
// keeps the single-writer discipline per session.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxUtteranceBytes)

	ctx := r.Context()
	s.metrics.ActiveConnections.Add(ctx, 1)
	defer s.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			// Peer closed or the connection broke; either way we are done.
			return
		}
		if msg.SessionID == "" || msg.Text == "" {
			if err := wsjson.Write(ctx, conn, errorFrame{Type: "error", Message: "sessionId and text are required"}); err != nil {
				return
			}
			continue
		}
		if err := s.runTurn(ctx, conn, msg); err != nil {
			return
		}
	}
}

// runTurn streams one turn's events to the connection. A non-nil return means
// the connection is unusable and the read loop should stop.
func (s *Server) runTurn(ctx context.Context, conn *websocket.Conn, msg clientMessage) error {
	// A per-turn context so a failed write tears the pipeline down.
	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.turns.ProcessMessage(tctx, msg.SessionID, msg.Text)
	if err != nil {
		return wsjson.Write(ctx, conn, errorFrame{Type: "error", Message: turnErrorMessage(err)})
	}

	for ev := range events {
		if err := wsjson.Write(ctx, conn, wireFrame(ev)); err != nil {
			cancel()
			for range events {
				// Drain so the pipeline can finalize and exit.
			}
			return err
		}
	}
	return nil
}

// turnErrorMessage converts a precondition failure into its client-facing
// message without leaking storage internals.
func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, turn.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, turn.ErrCharacterNotBound):
		return "session has no bound character"
	default:
		return "internal error"
	}
}

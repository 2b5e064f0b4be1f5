package webbridge

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/germanamz/illias/pkg/engine"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// handleEvents upgrades to a WebSocket and streams the session's events as
// JSON until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so no event published after
	// the client sees the upgrade is missed.
	sub := s.engine.Events().Subscribe(eventBuffer)
	defer s.engine.Events().Unsubscribe(sub)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.origins),
	})
	if err != nil {
		s.log.Warn("websocket accept", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// The client never sends; CloseRead handles control frames and cancels
	// ctx when the peer closes.
	ctx := conn.CloseRead(r.Context())

	s.log.Debug("websocket connected", "session", s.session.ID())

	if err := s.streamEvents(ctx, conn, sub); err != nil && !isClosed(err) {
		s.log.Warn("websocket stream", "error", err)
		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, sub *engine.Subscription) error {
	id := s.session.ID()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			if e.SessionID != id {
				continue
			}

			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, e)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// originPatterns converts CORS origins to the host patterns the WebSocket
// handshake expects.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, host, ok := strings.Cut(o, "://"); ok {
			o = host
		}
		patterns = append(patterns, strings.TrimSuffix(o, "/"))
	}
	return patterns
}

func isClosed(err error) bool {
	return errors.Is(err, context.Canceled) ||
		websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway
}

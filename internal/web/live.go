package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sweeney/evse-monitor/internal/status"
)

const (
	liveWriteTimeout = 5 * time.Second
	livePingInterval = 30 * time.Second
	livePongWait     = 60 * time.Second
)

// handleLive streams the compact status JSON over a websocket: once on
// connect and again after every change.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	changes, unsubscribe := s.tracker.Subscribe()

	go s.liveReadPump(conn, cancel)
	s.liveWritePump(ctx, conn, changes)

	unsubscribe()
	cancel()
	_ = conn.Close()
}

// liveReadPump discards client frames; its only job is noticing the close.
func (s *Server) liveReadPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(livePongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) liveWritePump(ctx context.Context, conn *websocket.Conn, changes <-chan struct{}) {
	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()

	write := func(messageType int, data []byte) error {
		conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		return conn.WriteMessage(messageType, data)
	}

	if err := write(websocket.TextMessage, status.FormatCompactJSON(s.tracker.Snapshot())); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-changes:
			if err := write(websocket.TextMessage, status.FormatCompactJSON(s.tracker.Snapshot())); err != nil {
				s.logger.Debug("live feed write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const transportWebSocket = "websocket"

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	p := newPeer(transportWebSocket, s.config.SendBuffer, s.clock.Now())
	s.hub.Register(p)

	log.Info().
		Str("peer_id", p.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	go s.writePump(conn, p)
	s.readPump(r.Context(), conn, p)
}

// writePump sends queued frames and keepalive pings until the peer closes.
func (s *Server) writePump(conn *websocket.Conn, p *Peer) {
	ticker := s.clock.NewTicker(s.config.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-p.Done():
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-p.send:
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("peer_id", p.ID).Msg("failed to write message to WebSocket")
				p.Close()
				return
			}

		case <-ticker.Chan():
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("peer_id", p.ID).Msg("failed to send ping")
				p.Close()
				return
			}
		}
	}
}

// readPump executes client commands until the connection fails, then disconnects the peer.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, p *Peer) {
	defer s.disconnect(p)

	conn.SetReadLimit(s.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		p.touch(s.clock.Now())
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("peer_id", p.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		p.touch(s.clock.Now())
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		s.handleFrame(ctx, p, message)
	}
}

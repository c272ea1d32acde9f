package liveserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	apperrors "liqrisk/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// handleWebSocket upgrades the connection and answers each slider tick
// with a result or error message addressed to that client only.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Admission runs before the upgrade allocates anything
	if !s.allow(r) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}
	release, ok := s.gate.acquire()
	if !ok {
		s.reject(r, reasonConnLimit)
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer release()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("WebSocket upgrade failed", "error", err)
		}
		return
	}
	defer conn.Close()

	session := NewSession(uuid.NewString())
	if !s.hub.Register(session) {
		return
	}
	websocketActiveConnections.Inc()
	defer websocketActiveConnections.Dec()

	if s.logger != nil {
		s.logger.Info("Session opened", "session_id", session.ID(), "remote_addr", r.RemoteAddr)
	}
	session.Enqueue(NewMessage(TypeWelcome, WelcomeData{ClientID: session.ID(), Modes: supportedModes}))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		// Closing the connection unblocks readPump once writes stop
		defer conn.Close()
		s.writePump(conn, session)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.readPump(ctx, conn, session)
	}()
	wg.Wait()

	if s.logger != nil {
		s.logger.Info("Session closed", "session_id", session.ID())
	}
}

// writePump sends queued messages and keepalive pings
func (s *Server) writePump(conn *websocket.Conn, session *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-session.Outbox():
			conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteJSON(msg); err != nil {
				if s.logger != nil {
					s.logger.Debug("Write error", "session_id", session.ID(), "error", err)
				}
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes client requests and queues the replies. It unregisters
// the session on exit, which closes the outbox and stops writePump.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, session *Session) {
	defer s.hub.Unregister(session)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				if s.logger != nil {
					s.logger.Warn("Read error", "session_id", session.ID(), "error", err)
				}
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if !session.Enqueue(s.answer(ctx, data)) {
			if s.logger != nil {
				s.logger.Warn("Session outbox full, dropping reply", "session_id", session.ID())
			}
		}
	}
}

// answer turns one raw client frame into its reply
func (s *Server) answer(ctx context.Context, data []byte) Message {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		err = fmt.Errorf("%w: malformed message: %v", apperrors.ErrInvalidInput, err)
		return NewErrorMessage("", ErrorResponse{Error: err.Error(), Kind: kindOf(err)})
	}

	resp, err := s.compute(ctx, req.Inputs)
	if err != nil {
		return NewErrorMessage(req.ID, ErrorResponse{Error: err.Error(), Kind: kindOf(err)})
	}
	return NewResultMessage(req.ID, resp)
}

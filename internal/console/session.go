package console

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/easy-station/hostlink/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 64 * 1024
	sessionSendBuffer = 256
	maxCloseReason    = 123
)

// Session is a browser terminal attached over a WebSocket. All writes go
// through writePump; reads happen in Serve.
type Session struct {
	id     string
	hostID string
	conn   *websocket.Conn
	bridge *Bridge

	send      chan protocol.ViewerMessage
	closing   chan struct{}
	closeOnce sync.Once
	reason    string
	done      chan struct{}
}

func NewSession(id, hostID string, conn *websocket.Conn, bridge *Bridge) *Session {
	return &Session{
		id:      id,
		hostID:  hostID,
		conn:    conn,
		bridge:  bridge,
		send:    make(chan protocol.ViewerMessage, sessionSendBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Enqueue(msg protocol.ViewerMessage) bool {
	select {
	case <-s.closing:
		return false
	default:
	}

	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// Close flushes queued messages and closes the socket with reason.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.closing)
	})
}

// Reject answers a viewer that could not be attached and closes the socket.
// Only valid before Serve.
func (s *Session) Reject(code, message string) {
	_ = s.write(protocol.Error{Code: code, Message: message})
	s.writeClose(websocket.ClosePolicyViolation, message)
	_ = s.conn.Close()
}

// Serve pumps the socket until either side closes it.
func (s *Session) Serve(ctx context.Context) {
	go s.writePump()

	s.readPump(ctx)

	s.bridge.Detach(s.hostID, s.id)
	s.Close("")
	<-s.done
}

func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("Console read error", "host_id", s.hostID, "session_id", s.id, "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.DecodeViewer(data)
		if err != nil {
			s.Enqueue(protocol.Error{Code: "BAD_MESSAGE", Message: err.Error()})
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *Session) handle(ctx context.Context, msg protocol.ViewerMessage) {
	var err error
	switch m := msg.(type) {
	case protocol.FetchLogs:
		err = s.bridge.History(s.hostID, s.id)
	case protocol.Input:
		err = s.bridge.Input(ctx, s.hostID, s.id, m.Content)
	case protocol.ExecCmd:
		_, err = s.bridge.Exec(ctx, s.hostID, s.id, m.Command, 0)
	case protocol.Heartbeat:
		return
	default:
		s.Enqueue(protocol.Error{Code: "UNSUPPORTED", Message: "unsupported message type " + string(msg.Type())})
		return
	}

	if err != nil {
		slog.Warn("Console message failed",
			"host_id", s.hostID,
			"session_id", s.id,
			"type", msg.Type(),
			"error", err)
		s.Enqueue(protocol.Error{Code: ErrorCode(err), Message: err.Error()})
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.done)
	}()

	for {
		select {
		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				slog.Debug("Console write failed", "host_id", s.hostID, "session_id", s.id, "error", err)
				s.Close("")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close("")
				return
			}
		case <-s.closing:
			s.drain()
			if s.reason == "" {
				s.writeClose(websocket.CloseNormalClosure, "")
			} else {
				s.writeClose(websocket.CloseGoingAway, s.reason)
			}
			return
		}
	}
}

func (s *Session) drain() {
	for {
		select {
		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(msg protocol.ViewerMessage) error {
	data, err := protocol.EncodeViewer(msg)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) writeClose(code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
}

// ErrorCode maps bridge errors onto the codes sent in ERROR frames.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrHostNotOnline):
		return "HOST_NOT_ONLINE"
	case errors.Is(err, ErrSessionNotAttached):
		return "SESSION_NOT_ATTACHED"
	case errors.Is(err, ErrDuplicateSession):
		return "DUPLICATE_SESSION"
	default:
		return "UPSTREAM_ERROR"
	}
}

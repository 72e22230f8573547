package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/easy-station/hostlink/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	sendChannelBuffer = 100
	sendTimeout       = 5 * time.Second
	linkWriteWait     = 10 * time.Second
	linkPingPeriod    = 54 * time.Second
	linkReadLimit     = 1 << 20

	reasonAgentClosed = "agent closed connection"
)

// agentLink is the single upstream socket to one host agent. sendLoop is
// the only writer and receiveLoop the only reader.
type agentLink struct {
	hostID string
	conn   *websocket.Conn
	sendCh chan protocol.Envelope

	ctx    context.Context
	cancel context.CancelFunc
}

func newAgentLink(hostID string, conn *websocket.Conn) *agentLink {
	ctx, cancel := context.WithCancel(context.Background())
	return &agentLink{
		hostID: hostID,
		conn:   conn,
		sendCh: make(chan protocol.Envelope, sendChannelBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (l *agentLink) isClosed() bool {
	return l.ctx.Err() != nil
}

func (l *agentLink) close() {
	l.cancel()
}

func (l *agentLink) send(ctx context.Context, env protocol.Envelope) error {
	select {
	case l.sendCh <- env:
		slog.Debug("Message queued for agent", "host_id", l.hostID, "request_id", env.RequestID, "type", env.Type)
		return nil
	case <-time.After(sendTimeout):
		return fmt.Errorf("timeout sending message to host: %s", l.hostID)
	case <-l.ctx.Done():
		return fmt.Errorf("%w: %s", ErrLinkClosed, l.hostID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serve runs both loops and returns the reason the link ended.
func (l *agentLink) serve(onFrame func(*agentLink, protocol.Envelope)) string {
	errChan := make(chan error, 2)

	go l.receiveLoop(onFrame, errChan)
	go l.sendLoop(errChan)

	var err error
	select {
	case err = <-errChan:
	case <-l.ctx.Done():
	}
	l.cancel()
	_ = l.conn.Close()

	return closeReason(err)
}

func (l *agentLink) receiveLoop(onFrame func(*agentLink, protocol.Envelope), errChan chan<- error) {
	l.conn.SetReadLimit(linkReadLimit)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if l.isClosed() {
				errChan <- nil
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Error("Error receiving from agent", "host_id", l.hostID, "error", err)
			}
			errChan <- err
			return
		}
		onFrame(l, protocol.DecodeEnvelope(data))
	}
}

func (l *agentLink) sendLoop(errChan chan<- error) {
	ticker := time.NewTicker(linkPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-l.sendCh:
			_ = l.conn.SetWriteDeadline(time.Now().Add(linkWriteWait))
			if err := l.conn.WriteJSON(env); err != nil {
				slog.Error("Error sending to agent", "host_id", l.hostID, "request_id", env.RequestID, "error", err)
				errChan <- err
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(linkWriteWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				errChan <- err
				return
			}
		case <-l.ctx.Done():
			_ = l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(linkWriteWait))
			return
		}
	}
}

func closeReason(err error) string {
	if err == nil {
		return reasonAgentClosed
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		return reasonAgentClosed
	}
	return "link error: " + err.Error()
}

// buildWsURL turns an operator-entered gateway address into the agent
// endpoint: http becomes ws, https becomes wss and /ws is appended.
func buildWsURL(gateway string) (string, error) {
	gateway = strings.TrimSpace(gateway)
	if gateway == "" {
		return "", errors.New("gateway url is empty")
	}

	switch {
	case strings.HasPrefix(gateway, "https://"):
		gateway = "wss://" + strings.TrimPrefix(gateway, "https://")
	case strings.HasPrefix(gateway, "http://"):
		gateway = "ws://" + strings.TrimPrefix(gateway, "http://")
	case strings.HasPrefix(gateway, "ws://"), strings.HasPrefix(gateway, "wss://"):
	default:
		gateway = "ws://" + gateway
	}

	u, err := url.Parse(gateway)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid gateway url: missing host in %q", gateway)
	}

	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path += "/ws"
	}
	return u.String(), nil
}

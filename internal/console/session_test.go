package console

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/easy-station/hostlink/internal/hosts"
	"github.com/easy-station/hostlink/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupConsoleServer(b *Bridge, hostID string) *httptest.Server {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := NewSession(r.URL.Query().Get("session"), hostID, conn, b)
		if err := b.Attach(hostID, s); err != nil {
			s.Reject(ErrorCode(err), err.Error())
			return
		}
		s.Serve(r.Context())
	}))
}

func dialConsole(t *testing.T, server *httptest.Server, session string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?session=" + session
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readViewer(t *testing.T, conn *websocket.Conn) protocol.ViewerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeViewer(data)
	require.NoError(t, err)
	return msg
}

func writeViewer(t *testing.T, conn *websocket.Conn, msg protocol.ViewerMessage) {
	t.Helper()
	data, err := protocol.EncodeViewer(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestSession_HistoryThenLive(t *testing.T) {
	b, link := setupBridge(10)
	link.SetStatus("h1", hosts.StatusOnline)
	b.Publish("h1", "earlier")

	server := setupConsoleServer(b, "h1")
	defer server.Close()

	conn := dialConsole(t, server, "s1")

	assert.Equal(t, protocol.LogHistory{Lines: []string{"earlier"}}, readViewer(t, conn))

	b.Publish("h1", "now")
	assert.Equal(t, protocol.Log{Line: "now"}, readViewer(t, conn))
}

func TestSession_TwoViewersSeeSameLine(t *testing.T) {
	b, link := setupBridge(10)
	link.SetStatus("h1", hosts.StatusOnline)

	server := setupConsoleServer(b, "h1")
	defer server.Close()

	c1 := dialConsole(t, server, "s1")
	c2 := dialConsole(t, server, "s2")
	readViewer(t, c1)
	readViewer(t, c2)

	b.Publish("h1", "ready")

	assert.Equal(t, protocol.Log{Line: "ready"}, readViewer(t, c1))
	assert.Equal(t, protocol.Log{Line: "ready"}, readViewer(t, c2))
	assert.Equal(t, []string{"ready"}, b.Lines("h1"))
}

func TestSession_InputReachesUpstream(t *testing.T) {
	b, link := setupBridge(10)
	link.SetStatus("h1", hosts.StatusOnline)

	sent := make(chan protocol.Envelope, 4)
	link.On("Send", "h1", mock.Anything).Run(func(args mock.Arguments) {
		sent <- args.Get(1).(protocol.Envelope)
	}).Return(nil)

	server := setupConsoleServer(b, "h1")
	defer server.Close()

	conn := dialConsole(t, server, "s1")
	readViewer(t, conn)

	writeViewer(t, conn, protocol.Input{Content: "a"})
	writeViewer(t, conn, protocol.Input{Content: "b"})

	for _, want := range []string{"a", "b"} {
		select {
		case env := <-sent:
			var c protocol.InputContent
			require.NoError(t, env.DecodeContent(&c))
			assert.Equal(t, want, c.Content)
		case <-time.After(2 * time.Second):
			t.Fatal("input not forwarded")
		}
	}
}

func TestSession_ExecEcho(t *testing.T) {
	b, link := setupBridge(10)
	link.SetStatus("h1", hosts.StatusOnline)
	link.On("Send", "h1", mock.Anything).Return(nil)

	server := setupConsoleServer(b, "h1")
	defer server.Close()

	conn := dialConsole(t, server, "s1")
	readViewer(t, conn)

	writeViewer(t, conn, protocol.ExecCmd{Command: "df -h"})
	assert.Equal(t, protocol.Log{Line: "$ df -h"}, readViewer(t, conn))
}

func TestSession_FetchLogs(t *testing.T) {
	b, link := setupBridge(10)
	link.SetStatus("h1", hosts.StatusOnline)

	server := setupConsoleServer(b, "h1")
	defer server.Close()

	conn := dialConsole(t, server, "s1")
	readViewer(t, conn)
	b.Publish("h1", "x")
	readViewer(t, conn)

	writeViewer(t, conn, protocol.FetchLogs{})
	assert.Equal(t, protocol.LogHistory{Lines: []string{"x"}}, readViewer(t, conn))
}

func TestSession_BadMessage(t *testing.T) {
	b, link := setupBridge(10)
	link.SetStatus("h1", hosts.StatusOnline)

	server := setupConsoleServer(b, "h1")
	defer server.Close()

	conn := dialConsole(t, server, "s1")
	readViewer(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	msg := readViewer(t, conn)
	errMsg, ok := msg.(protocol.Error)
	require.True(t, ok)
	assert.Equal(t, "BAD_MESSAGE", errMsg.Code)
}

func TestSession_HostDisconnectClosesWithReason(t *testing.T) {
	b, link := setupBridge(10)
	link.SetStatus("h1", hosts.StatusOnline)

	server := setupConsoleServer(b, "h1")
	defer server.Close()

	conn := dialConsole(t, server, "s1")
	readViewer(t, conn)

	link.SetStatus("h1", hosts.StatusOffline)
	b.DisconnectHost("h1", "agent closed connection")

	assert.Equal(t, protocol.HostDisconnected{Reason: "agent closed connection"}, readViewer(t, conn))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "agent closed connection", closeErr.Text)
}

func TestSession_RejectedWhenHostOffline(t *testing.T) {
	b, link := setupBridge(10)
	link.SetStatus("h1", hosts.StatusOffline)

	server := setupConsoleServer(b, "h1")
	defer server.Close()

	conn := dialConsole(t, server, "s1")

	msg := readViewer(t, conn)
	assert.Equal(t, "HOST_NOT_ONLINE", msg.(protocol.Error).Code)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr))
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, 0, b.ViewerCount("h1"))
}

func TestSession_ViewerCloseDetaches(t *testing.T) {
	b, link := setupBridge(10)
	link.SetStatus("h1", hosts.StatusOnline)

	server := setupConsoleServer(b, "h1")
	defer server.Close()

	conn := dialConsole(t, server, "s1")
	readViewer(t, conn)
	require.Equal(t, 1, b.ViewerCount("h1"))

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	assert.Eventually(t, func() bool { return b.ViewerCount("h1") == 0 }, 2*time.Second, 10*time.Millisecond)

	b.Publish("h1", "still buffered")
	assert.Equal(t, []string{"still buffered"}, b.Lines("h1"))
}

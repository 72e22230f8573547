package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/easy-station/hostlink/internal/console"
	"github.com/easy-station/hostlink/internal/hosts"
	"github.com/easy-station/hostlink/internal/protocol"
	"github.com/easy-station/hostlink/internal/ticket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	mu     sync.Mutex
	status hosts.Status
	sent   []protocol.Envelope
}

func (l *fakeLink) Status(string) hosts.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *fakeLink) Send(_ context.Context, _ string, env protocol.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, env)
	return nil
}

func setupConsoleRouter(t *testing.T, status hosts.Status) (*httptest.Server, *console.Bridge, *ticket.Store) {
	t.Helper()
	bridge := console.NewBridge(10)
	bridge.SetLink(&fakeLink{status: status})
	tickets := ticket.NewStore(time.Minute)

	r := gin.New()
	r.GET("/ws/console/:hostId", NewConsoleHandler(bridge, tickets).Serve)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, bridge, tickets
}

func consoleURL(server *httptest.Server, hostID, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/console/" + hostID + "?" + query
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.ViewerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeViewer(data)
	require.NoError(t, err)
	return msg
}

func TestConsole_AttachWithTicket(t *testing.T) {
	server, bridge, tickets := setupConsoleRouter(t, hosts.StatusOnline)
	bridge.Publish(testHostID, "booted")

	tk, err := tickets.Issue(testHostID, "user-1")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(consoleURL(server, testHostID, "ticket="+tk.Key), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, protocol.LogHistory{Lines: []string{"booted"}}, readFrame(t, conn))

	bridge.Publish(testHostID, "live")
	assert.Equal(t, protocol.Log{Line: "live"}, readFrame(t, conn))
	assert.Equal(t, 1, bridge.ViewerCount(testHostID))
}

func TestConsole_ReportsSessionID(t *testing.T) {
	server, bridge, tickets := setupConsoleRouter(t, hosts.StatusOnline)

	tk, err := tickets.Issue(testHostID, "user-1")
	require.NoError(t, err)
	conn, resp, err := websocket.DefaultDialer.Dial(consoleURL(server, testHostID, "ticket="+tk.Key), nil)
	require.NoError(t, err)
	defer conn.Close()

	minted := resp.Header.Get(SessionHeader)
	_, err = uuid.Parse(minted)
	require.NoError(t, err)
	readFrame(t, conn)
	assert.True(t, bridge.IsAttached(testHostID, minted))

	chosen := uuid.NewString()
	tk, err = tickets.Issue(testHostID, "user-1")
	require.NoError(t, err)
	conn2, resp, err := websocket.DefaultDialer.Dial(
		consoleURL(server, testHostID, "ticket="+tk.Key+"&session="+chosen), nil)
	require.NoError(t, err)
	defer conn2.Close()
	assert.Equal(t, chosen, resp.Header.Get(SessionHeader))
}

func TestConsole_TicketIsSingleUse(t *testing.T) {
	server, _, tickets := setupConsoleRouter(t, hosts.StatusOnline)
	tk, err := tickets.Issue(testHostID, "user-1")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(consoleURL(server, testHostID, "ticket="+tk.Key), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(consoleURL(server, testHostID, "ticket="+tk.Key), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConsole_Rejections(t *testing.T) {
	server, _, tickets := setupConsoleRouter(t, hosts.StatusOnline)

	_, resp, err := websocket.DefaultDialer.Dial(consoleURL(server, testHostID, ""), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other, err := tickets.Issue("another-host", "user-1")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(consoleURL(server, testHostID, "ticket="+other.Key), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	tk, err := tickets.Issue(testHostID, "user-1")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(consoleURL(server, testHostID, "ticket="+tk.Key+"&session=not-a-uuid"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConsole_HostOffline(t *testing.T) {
	server, bridge, tickets := setupConsoleRouter(t, hosts.StatusOffline)
	tk, err := tickets.Issue(testHostID, "user-1")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(consoleURL(server, testHostID, "ticket="+tk.Key), nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readFrame(t, conn)
	require.IsType(t, protocol.Error{}, msg)
	assert.Equal(t, "HOST_NOT_ONLINE", msg.(protocol.Error).Code)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	assert.Equal(t, 0, bridge.ViewerCount(testHostID))
}

package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/easy-station/hostlink/internal/agent"
	"github.com/easy-station/hostlink/internal/api/http/dto"
	"github.com/easy-station/hostlink/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readViewer(t *testing.T, conn *websocket.Conn, match func(protocol.ViewerMessage) bool) protocol.ViewerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		msg, err := protocol.DecodeViewer(data)
		require.NoError(t, err)
		if match(msg) {
			return msg
		}
	}
}

func sendViewer(t *testing.T, conn *websocket.Conn, msg protocol.ViewerMessage) {
	t.Helper()
	data, err := protocol.EncodeViewer(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func connect(t *testing.T, env *Env, token, hostID string) string {
	t.Helper()
	rr := doJSON(env.Router, http.MethodPost, "/infra/hosts/"+hostID+"/connect", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp dto.ConnectResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Status
}

func TestConnectAndConsole(t *testing.T, env *Env) {
	if runtime.GOOS == "windows" {
		t.Skip("agent commands use sh")
	}
	token := login(t, env.Router, adminUsername, adminPassword)
	created := createHost(t, env, token, dto.CreateHostRequest{Name: "agent-1", OS: "LINUX"})

	host, err := env.Hosts.Get(context.Background(), created.ID)
	require.NoError(t, err)

	a := agent.New(agent.Config{HostID: host.ID, SecretKey: host.SecretKey}, "systemtest")
	agentSrv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		_ = a.Close()
		agentSrv.Close()
	})

	gateway := agentSrv.URL
	rr := doJSON(env.Router, http.MethodPut, "/infra/hosts/"+host.ID, token, dto.UpdateHostRequest{GatewayURL: &gateway})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.Equal(t, "ONLINE", connect(t, env, token, host.ID))

	rr = doJSON(env.Router, http.MethodPost, "/infra/hosts/"+host.ID+"/console-ticket", token, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var tk dto.ConsoleTicketResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tk))

	sessionID := tk.SessionID
	wsURL := "ws" + strings.TrimPrefix(env.Server.URL, "http") + tk.URL
	viewer, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = viewer.Close() })

	t.Run("ticket is single use", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("history", func(t *testing.T) {
		sendViewer(t, viewer, protocol.FetchLogs{})
		msg := readViewer(t, viewer, func(m protocol.ViewerMessage) bool {
			return m.Type() == protocol.TypeLogHistory
		})
		assert.IsType(t, protocol.LogHistory{}, msg)
	})

	t.Run("exec streams output", func(t *testing.T) {
		sendViewer(t, viewer, protocol.ExecCmd{Command: "echo systemtest-marker"})
		msg := readViewer(t, viewer, func(m protocol.ViewerMessage) bool {
			l, ok := m.(protocol.Log)
			return ok && strings.Contains(l.Line, "EXEC_RESULT")
		})
		assert.Contains(t, msg.(protocol.Log).Line, "status=SUCCESS")
	})

	t.Run("template command", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodGet, "/infra/hosts/"+host.ID+"/commands", token, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = doJSON(env.Router, http.MethodPost, "/infra/hosts/"+host.ID+"/commands/greet/execute", token,
			dto.ExecuteCommandRequest{SessionID: sessionID})
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

		readViewer(t, viewer, func(m protocol.ViewerMessage) bool {
			l, ok := m.(protocol.Log)
			return ok && l.Line == "hello-from-template"
		})

		rr = doJSON(env.Router, http.MethodPost, "/infra/hosts/"+host.ID+"/commands/missing/execute", token,
			dto.ExecuteCommandRequest{SessionID: sessionID})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("maintenance", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodPost, "/infra/hosts/"+host.ID+"/maintenance", token, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = doJSON(env.Router, http.MethodPost, "/infra/hosts/"+host.ID+"/connect", token, nil)
		assert.Equal(t, http.StatusConflict, rr.Code)

		rr = doJSON(env.Router, http.MethodDelete, "/infra/hosts/"+host.ID+"/maintenance", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp dto.ConnectResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "OFFLINE", resp.Status)

		msg := readViewer(t, viewer, func(m protocol.ViewerMessage) bool {
			return m.Type() == protocol.TypeHostDisconnected
		})
		assert.IsType(t, protocol.HostDisconnected{}, msg)
	})

	t.Run("reconnect", func(t *testing.T) {
		assert.Equal(t, "ONLINE", connect(t, env, token, host.ID))

		assert.Eventually(t, func() bool {
			stored, err := env.Hosts.Get(context.Background(), host.ID)
			return err == nil && string(stored.Status) == "ONLINE"
		}, 5*time.Second, 50*time.Millisecond)
	})
}

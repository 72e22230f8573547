package supervisor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/easy-station/hostlink/internal/console"
	"github.com/easy-station/hostlink/internal/hosts"
	"github.com/easy-station/hostlink/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockHostStore struct {
	mock.Mock
}

func (m *MockHostStore) Get(ctx context.Context, id string) (*hosts.Host, error) {
	args := m.Called(ctx, id)
	h, _ := args.Get(0).(*hosts.Host)
	return h, args.Error(1)
}

func (m *MockHostStore) List(ctx context.Context, environmentID string) ([]hosts.Host, error) {
	args := m.Called(ctx, environmentID)
	list, _ := args.Get(0).([]hosts.Host)
	return list, args.Error(1)
}

func (m *MockHostStore) UpdateConnectionState(ctx context.Context, id string, state hosts.ConnectionState) error {
	args := m.Called(ctx, id, state)
	return args.Error(0)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingViewer struct {
	id     string
	mu     sync.Mutex
	msgs   []protocol.ViewerMessage
	closed bool
	reason string
}

func (v *recordingViewer) ID() string { return v.id }

func (v *recordingViewer) Enqueue(msg protocol.ViewerMessage) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	v.msgs = append(v.msgs, msg)
	return true
}

func (v *recordingViewer) Close(reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.reason = reason
}

func (v *recordingViewer) messages() []protocol.ViewerMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]protocol.ViewerMessage(nil), v.msgs...)
}

func (v *recordingViewer) closeReason() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reason, v.closed
}

func (v *recordingViewer) has(msg protocol.ViewerMessage) bool {
	for _, m := range v.messages() {
		if m == msg {
			return true
		}
	}
	return false
}

type fakeAgent struct {
	server *httptest.Server
	conns  chan *websocket.Conn

	mu      sync.Mutex
	headers []http.Header
}

func newFakeAgent(t *testing.T, secret string, delay time.Duration) *fakeAgent {
	t.Helper()
	a := &fakeAgent{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}

	a.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Agent-Secret") != secret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		a.mu.Lock()
		a.headers = append(a.headers, r.Header.Clone())
		a.mu.Unlock()

		time.Sleep(delay)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		a.conns <- conn
	}))
	t.Cleanup(a.server.Close)
	return a
}

func (a *fakeAgent) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-a.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("agent was not dialled")
		return nil
	}
}

func (a *fakeAgent) dials() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.headers)
}

func (a *fakeAgent) send(t *testing.T, conn *websocket.Conn, typ protocol.MessageType, content any) {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, content)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func testHost(id, gateway string) *hosts.Host {
	return &hosts.Host{
		ID:                id,
		Name:              id,
		OS:                "LINUX",
		GatewayURL:        gateway,
		SecretKey:         "secret-" + id,
		Status:            hosts.StatusUnconnected,
		HeartbeatInterval: 30,
	}
}

type harness struct {
	sup       *Supervisor
	store     *MockHostStore
	bridge    *console.Bridge
	clock     *fakeClock
	persisted chan hosts.ConnectionState
}

func setupSupervisor(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:     new(MockHostStore),
		bridge:    console.NewBridge(100),
		clock:     newFakeClock(),
		persisted: make(chan hosts.ConnectionState, 256),
	}
	h.store.On("UpdateConnectionState", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			select {
			case h.persisted <- args.Get(2).(hosts.ConnectionState):
			default:
			}
		}).
		Return(nil).Maybe()

	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = time.Second
	}
	h.sup = New(cfg, h.store, h.bridge)
	h.sup.now = h.clock.Now
	h.bridge.SetLink(h.sup)
	t.Cleanup(h.sup.Stop)
	return h
}

func (h *harness) connected(t *testing.T, host *hosts.Host, agent *fakeAgent) *websocket.Conn {
	t.Helper()
	h.store.On("Get", mock.Anything, host.ID).Return(host, nil)
	require.NoError(t, h.sup.Connect(context.Background(), host.ID))
	require.Equal(t, hosts.StatusOnline, h.sup.Status(host.ID))
	return agent.accept(t)
}

func (h *harness) waitPersisted(t *testing.T, status hosts.Status) hosts.ConnectionState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-h.persisted:
			if st.Status == status {
				return st
			}
		case <-deadline:
			t.Fatalf("status %s was never persisted", status)
		}
	}
}

func TestCanTransition(t *testing.T) {
	all := []hosts.Status{
		hosts.StatusUnconnected,
		hosts.StatusOffline,
		hosts.StatusOnline,
		hosts.StatusException,
		hosts.StatusMaintenance,
	}
	allowed := map[[2]hosts.Status]bool{
		{hosts.StatusUnconnected, hosts.StatusOnline}:  true,
		{hosts.StatusOffline, hosts.StatusOnline}:      true,
		{hosts.StatusException, hosts.StatusOnline}:    true,
		{hosts.StatusOnline, hosts.StatusOffline}:      true,
		{hosts.StatusOnline, hosts.StatusException}:    true,
		{hosts.StatusOnline, hosts.StatusOnline}:       true,
		{hosts.StatusMaintenance, hosts.StatusOffline}: true,
	}
	for _, from := range all {
		allowed[[2]hosts.Status{from, hosts.StatusMaintenance}] = true
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]hosts.Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestBuildWsURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://10.0.0.5:9090", "ws://10.0.0.5:9090/ws", false},
		{"https://gw.example.com", "wss://gw.example.com/ws", false},
		{"10.0.0.5:9090", "ws://10.0.0.5:9090/ws", false},
		{"http://10.0.0.5:9090/", "ws://10.0.0.5:9090/ws", false},
		{"ws://10.0.0.5:9090/ws", "ws://10.0.0.5:9090/ws", false},
		{"https://gw.example.com/agent", "wss://gw.example.com/agent/ws", false},
		{"", "", true},
		{"http://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := buildWsURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnect_Success(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	host := testHost("h1", agent.server.URL)

	h.connected(t, host, agent)

	persisted := h.waitPersisted(t, hosts.StatusOnline)
	require.NotNil(t, persisted.LastHeartbeat)
	assert.Equal(t, h.clock.Now(), *persisted.LastHeartbeat)

	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.Equal(t, "Bearer secret-h1", agent.headers[0].Get("Authorization"))
}

func TestConnect_RefreshesLiveLink(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	host := testHost("h1", agent.server.URL)
	h.connected(t, host, agent)

	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.sup.Connect(context.Background(), "h1"))

	assert.Equal(t, 1, agent.dials())
	assert.Equal(t, hosts.StatusOnline, h.sup.Status("h1"))
}

func TestConnect_ConcurrentCallsDialOnce(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 100*time.Millisecond)
	host := testHost("h1", agent.server.URL)
	h.store.On("Get", mock.Anything, "h1").Return(host, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.sup.Connect(context.Background(), "h1")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, agent.dials())
}

func TestConnect_Failures(t *testing.T) {
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	refusedAddr := closed.Addr().String()
	require.NoError(t, closed.Close())

	silent, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = silent.Close() })

	agent := newFakeAgent(t, "another-secret", 0)

	tests := []struct {
		name    string
		gateway string
		reason  string
	}{
		{"no gateway", "", ReasonNoGateway},
		{"refused", "http://" + refusedAddr, ReasonUnreachable},
		{"silent", "http://" + silent.Addr().String(), ReasonTimeout},
		{"bad secret", agent.server.URL, ReasonRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupSupervisor(t, Config{ConnectTimeout: 200 * time.Millisecond})
			host := testHost("h1", tt.gateway)
			h.store.On("Get", mock.Anything, "h1").Return(host, nil)

			err := h.sup.Connect(context.Background(), "h1")

			var cf *ConnectFailed
			require.True(t, errors.As(err, &cf), "got %v", err)
			assert.Equal(t, tt.reason, cf.Reason)
			assert.Equal(t, hosts.StatusUnconnected, h.sup.Status("h1"))
		})
	}
}

func refusedGateway(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}

// onlineWithDeadLink places h1 in ONLINE with a closed link and the given
// last heartbeat, the state left behind when the agent vanished between
// heartbeats.
func (h *harness) onlineWithDeadLink(lastHeartbeat time.Time) {
	link := newAgentLink("h1", nil)
	link.close()
	h.sup.mu.Lock()
	h.sup.hosts["h1"] = &hostState{
		status:        hosts.StatusOnline,
		interval:      30 * time.Second,
		lastHeartbeat: &lastHeartbeat,
		os:            "LINUX",
		link:          link,
	}
	h.sup.mu.Unlock()
}

func TestConnectFailed_DeadLinkWithRecentHeartbeatRaisesException(t *testing.T) {
	h := setupSupervisor(t, Config{ConnectTimeout: 200 * time.Millisecond})
	host := testHost("h1", refusedGateway(t))
	host.Status = hosts.StatusOnline
	h.store.On("Get", mock.Anything, "h1").Return(host, nil)
	h.onlineWithDeadLink(h.clock.Now().Add(-10 * time.Second))

	v := &recordingViewer{id: "v1"}
	require.NoError(t, h.bridge.Attach("h1", v))

	err := h.sup.Connect(context.Background(), "h1")

	var cf *ConnectFailed
	require.True(t, errors.As(err, &cf), "got %v", err)
	assert.Equal(t, ReasonUnreachable, cf.Reason)
	assert.Equal(t, hosts.StatusException, h.sup.Status("h1"))
	h.waitPersisted(t, hosts.StatusException)

	assert.True(t, v.has(protocol.HostDisconnected{Reason: "connect failed: " + ReasonUnreachable}))
	_, closed := v.closeReason()
	assert.True(t, closed)
	assert.False(t, h.bridge.IsAttached("h1", "v1"))
}

func TestConnectFailed_DeadLinkWithStaleHeartbeatKeepsStatus(t *testing.T) {
	h := setupSupervisor(t, Config{ConnectTimeout: 200 * time.Millisecond})
	host := testHost("h1", refusedGateway(t))
	host.Status = hosts.StatusOnline
	h.store.On("Get", mock.Anything, "h1").Return(host, nil)
	h.onlineWithDeadLink(h.clock.Now().Add(-60 * time.Second))

	v := &recordingViewer{id: "v1"}
	require.NoError(t, h.bridge.Attach("h1", v))

	err := h.sup.Connect(context.Background(), "h1")

	var cf *ConnectFailed
	require.True(t, errors.As(err, &cf), "got %v", err)
	assert.Equal(t, hosts.StatusOnline, h.sup.Status("h1"))
	_, closed := v.closeReason()
	assert.False(t, closed)
}

func TestConnect_HostNotFound(t *testing.T) {
	h := setupSupervisor(t, Config{})
	h.store.On("Get", mock.Anything, "missing").Return(nil, hosts.ErrHostNotFound)

	err := h.sup.Connect(context.Background(), "missing")
	assert.ErrorIs(t, err, hosts.ErrHostNotFound)
}

func TestConnect_RejectedInMaintenance(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	host := testHost("h1", agent.server.URL)
	host.Status = hosts.StatusMaintenance
	h.store.On("Get", mock.Anything, "h1").Return(host, nil)

	err := h.sup.Connect(context.Background(), "h1")
	assert.ErrorIs(t, err, ErrInMaintenance)
	assert.Equal(t, 0, agent.dials())
}

func TestHeartbeatSilence_DisconnectsEveryViewer(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	h.connected(t, testHost("h1", agent.server.URL), agent)

	v1 := &recordingViewer{id: "v1"}
	v2 := &recordingViewer{id: "v2"}
	require.NoError(t, h.bridge.Attach("h1", v1))
	require.NoError(t, h.bridge.Attach("h1", v2))

	h.clock.Advance(59 * time.Second)
	h.sup.checkHeartbeats()
	assert.Equal(t, hosts.StatusOnline, h.sup.Status("h1"))

	h.clock.Advance(2 * time.Second)
	h.sup.checkHeartbeats()
	assert.Equal(t, hosts.StatusOffline, h.sup.Status("h1"))

	for _, v := range []*recordingViewer{v1, v2} {
		msgs := v.messages()
		assert.Equal(t, protocol.HostDisconnected{Reason: reasonHeartbeatTimeout}, msgs[len(msgs)-1])
		reason, closed := v.closeReason()
		assert.True(t, closed)
		assert.Equal(t, reasonHeartbeatTimeout, reason)
	}
	assert.Equal(t, 0, h.bridge.ViewerCount("h1"))
	h.waitPersisted(t, hosts.StatusOffline)

	err := h.bridge.Attach("h1", &recordingViewer{id: "v3"})
	assert.ErrorIs(t, err, console.ErrHostNotOnline)
}

func TestHeartbeatFrame_ResetsSilence(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	conn := h.connected(t, testHost("h1", agent.server.URL), agent)

	v := &recordingViewer{id: "v1"}
	require.NoError(t, h.bridge.Attach("h1", v))

	h.clock.Advance(50 * time.Second)
	agent.send(t, conn, protocol.TypeHeartbeat, protocol.HeartbeatContent{
		AgentID: "h1",
		Status:  "ONLINE",
		OsType:  "LINUX_DOCKER",
	})
	require.Eventually(t, func() bool { return v.has(protocol.Heartbeat{}) }, 2*time.Second, 10*time.Millisecond)

	h.clock.Advance(50 * time.Second)
	h.sup.checkHeartbeats()
	assert.Equal(t, hosts.StatusOnline, h.sup.Status("h1"))

	state := h.waitPersisted(t, hosts.StatusOnline)
	for state.OS != "LINUX_DOCKER" {
		state = h.waitPersisted(t, hosts.StatusOnline)
	}
	assert.Equal(t, "LINUX_DOCKER", state.OS)
}

func TestAgentLog_ReachesViewers(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	conn := h.connected(t, testHost("h1", agent.server.URL), agent)

	v := &recordingViewer{id: "v1"}
	require.NoError(t, h.bridge.Attach("h1", v))

	agent.send(t, conn, protocol.TypeLog, "hello")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("plain text line")))

	require.Eventually(t, func() bool { return len(h.bridge.Lines("h1")) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"hello", "plain text line"}, h.bridge.Lines("h1"))
	assert.True(t, v.has(protocol.Log{Line: "hello"}))
}

func TestExecResult_AppendsSummary(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	conn := h.connected(t, testHost("h1", agent.server.URL), agent)

	env, err := protocol.NewEnvelopeWithID("req-1", protocol.TypeExecResult, protocol.ExecResultContent{
		Status:     "SUCCESS",
		ExitCode:   0,
		DurationMs: 12,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	want := "EXEC_RESULT requestId=req-1 status=SUCCESS exitCode=0 durationMs=12"
	require.Eventually(t, func() bool {
		lines := h.bridge.Lines("h1")
		return len(lines) == 1 && lines[0] == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAgentClose_MarksOffline(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	conn := h.connected(t, testHost("h1", agent.server.URL), agent)

	v := &recordingViewer{id: "v1"}
	require.NoError(t, h.bridge.Attach("h1", v))
	h.bridge.Publish("h1", "kept")

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	require.Eventually(t, func() bool { return h.sup.Status("h1") == hosts.StatusOffline }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, closed := v.closeReason()
		return closed
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, v.has(protocol.HostDisconnected{Reason: reasonAgentClosed}))
	assert.Equal(t, []string{"kept"}, h.bridge.Lines("h1"))
}

func TestAgentFault_MarksException(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	conn := h.connected(t, testHost("h1", agent.server.URL), agent)

	v := &recordingViewer{id: "v1"}
	require.NoError(t, h.bridge.Attach("h1", v))

	agent.send(t, conn, protocol.TypeHeartbeat, protocol.HeartbeatContent{AgentID: "h1", Status: "ERROR"})

	require.Eventually(t, func() bool { return h.sup.Status("h1") == hosts.StatusException }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, closed := v.closeReason()
		return closed
	}, 2*time.Second, 10*time.Millisecond)
	h.waitPersisted(t, hosts.StatusException)
}

func TestSend_ForwardsInputToAgent(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	conn := h.connected(t, testHost("h1", agent.server.URL), agent)

	v := &recordingViewer{id: "v1"}
	require.NoError(t, h.bridge.Attach("h1", v))
	require.NoError(t, h.bridge.Input(context.Background(), "h1", "v1", "ls\n"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, protocol.TypeInput, env.Type)
	assert.Equal(t, protocol.ProtocolVersion, env.ProtocolVersion)

	var content protocol.InputContent
	require.NoError(t, env.DecodeContent(&content))
	assert.Equal(t, "ls\n", content.Content)
}

func TestSend_NoLink(t *testing.T) {
	h := setupSupervisor(t, Config{})
	env, err := protocol.NewEnvelope(protocol.TypeInput, protocol.InputContent{Content: "x"})
	require.NoError(t, err)

	assert.ErrorIs(t, h.sup.Send(context.Background(), "h1", env), ErrNoLink)
}

func TestMaintenance(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	h.connected(t, testHost("h1", agent.server.URL), agent)

	v := &recordingViewer{id: "v1"}
	require.NoError(t, h.bridge.Attach("h1", v))

	require.NoError(t, h.sup.EnterMaintenance(context.Background(), "h1"))
	assert.Equal(t, hosts.StatusMaintenance, h.sup.Status("h1"))
	assert.Equal(t, 1, h.bridge.ViewerCount("h1"))

	h.clock.Advance(10 * time.Minute)
	h.sup.checkHeartbeats()
	assert.Equal(t, hosts.StatusMaintenance, h.sup.Status("h1"))

	require.NoError(t, h.sup.ExitMaintenance(context.Background(), "h1"))
	assert.Equal(t, hosts.StatusOffline, h.sup.Status("h1"))
	assert.True(t, v.has(protocol.HostDisconnected{Reason: reasonMaintenanceEnded}))

	err := h.sup.ExitMaintenance(context.Background(), "h1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestObserversSeeTransitions(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)

	var mu sync.Mutex
	var seen [][2]hosts.Status
	h.sup.AddObserver(func(hostID string, from, to hosts.Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, [2]hosts.Status{from, to})
	})

	h.connected(t, testHost("h1", agent.server.URL), agent)
	h.clock.Advance(2 * time.Minute)
	h.sup.checkHeartbeats()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][2]hosts.Status{
		{hosts.StatusUnconnected, hosts.StatusOnline},
		{hosts.StatusOnline, hosts.StatusOffline},
	}, seen)
}

func TestReconnectAll_SkipsNeverConnectedAndFaulted(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-a", 0)

	offline := testHost("a", agent.server.URL)
	offline.Status = hosts.StatusOnline
	fresh := testHost("b", agent.server.URL)
	faulted := testHost("c", agent.server.URL)
	faulted.Status = hosts.StatusException

	h.store.On("List", mock.Anything, "").Return([]hosts.Host{*offline, *fresh, *faulted}, nil)
	h.store.On("Get", mock.Anything, "a").Return(offline, nil)

	require.NoError(t, h.sup.ReconnectAll(context.Background()))

	assert.Equal(t, hosts.StatusOnline, h.sup.Status("a"))
	assert.Equal(t, hosts.StatusUnconnected, h.sup.Status("b"))
	assert.Equal(t, hosts.StatusException, h.sup.Status("c"))
	assert.Equal(t, 1, agent.dials())
	h.store.AssertNotCalled(t, "Get", mock.Anything, "b")
}

func TestReconnectOffline(t *testing.T) {
	h := setupSupervisor(t, Config{})
	agent := newFakeAgent(t, "secret-h1", 0)
	host := testHost("h1", agent.server.URL)
	h.connected(t, host, agent)

	h.clock.Advance(2 * time.Minute)
	h.sup.checkHeartbeats()
	require.Equal(t, hosts.StatusOffline, h.sup.Status("h1"))

	h.sup.reconnectOffline(context.Background())
	assert.Equal(t, hosts.StatusOnline, h.sup.Status("h1"))
	assert.Equal(t, 2, agent.dials())
}

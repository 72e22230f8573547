package supervisor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/easy-station/hostlink/internal/hosts"
	"github.com/easy-station/hostlink/internal/metrics"
	"github.com/easy-station/hostlink/internal/protocol"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInMaintenance     = errors.New("host is in maintenance")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoLink            = errors.New("no agent link for host")
	ErrLinkClosed        = errors.New("agent link closed")
)

const (
	ReasonUnreachable = "unreachable"
	ReasonRejected    = "rejected"
	ReasonTimeout     = "timeout"
	ReasonNoGateway   = "gateway url is empty"

	reasonHeartbeatTimeout = "heartbeat timeout"
	reasonAgentFault       = "agent reported fault"
	reasonMaintenanceEnded = "maintenance ended"
	reasonHostRemoved      = "host removed"
	reasonRestarted        = "gateway restarted"

	persistQueueSize = 256
	persistTimeout   = 5 * time.Second
)

// ConnectFailed is returned when the gateway could not be dialled.
type ConnectFailed struct {
	Reason string
	Err    error
}

func (e *ConnectFailed) Error() string {
	if e.Err == nil {
		return "connect failed: " + e.Reason
	}
	return fmt.Sprintf("connect failed: %s: %v", e.Reason, e.Err)
}

func (e *ConnectFailed) Unwrap() error {
	return e.Err
}

type Config struct {
	ConnectTimeout         time.Duration
	HeartbeatCheckInterval time.Duration
	ReconnectInterval      time.Duration
	ReconnectConcurrency   int
	TLS                    *tls.Config
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.HeartbeatCheckInterval <= 0 {
		c.HeartbeatCheckInterval = 5 * time.Second
	}
	if c.ReconnectConcurrency <= 0 {
		c.ReconnectConcurrency = 8
	}
	return c
}

// HostStore is the persistence the supervisor reads host records from and
// writes connection state to.
type HostStore interface {
	Get(ctx context.Context, id string) (*hosts.Host, error)
	List(ctx context.Context, environmentID string) ([]hosts.Host, error)
	UpdateConnectionState(ctx context.Context, id string, state hosts.ConnectionState) error
}

// Console receives agent output and teardown notices.
type Console interface {
	Publish(hostID, line string)
	Notify(hostID string, msg protocol.ViewerMessage)
	DisconnectHost(hostID, reason string)
}

// Observer is told about every status transition, after the lock is released.
type Observer func(hostID string, from, to hosts.Status)

// Supervisor owns the connectivity state of every host and its single
// upstream agent link.
type Supervisor struct {
	cfg     Config
	store   HostStore
	console Console
	dialer  *websocket.Dialer
	now     func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	hosts     map[string]*hostState
	observers []Observer

	persistCh chan change
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config, store HostStore, console Console) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:     cfg,
		store:   store,
		console: console,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
			TLSClientConfig:  cfg.TLS,
		},
		now:       time.Now,
		hosts:     make(map[string]*hostState),
		persistCh: make(chan change, persistQueueSize),
		stopCh:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.persistLoop()
	return s
}

func (s *Supervisor) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Start runs the heartbeat monitor and, when configured, the periodic
// reconnect of OFFLINE hosts.
func (s *Supervisor) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.monitorLoop()

	if s.cfg.ReconnectInterval > 0 {
		s.wg.Add(1)
		go s.reconnectLoop(ctx)
	}

	slog.Info("Connection supervisor started",
		"heartbeat_check_interval", s.cfg.HeartbeatCheckInterval,
		"reconnect_interval", s.cfg.ReconnectInterval)
}

func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.mu.Lock()
		for _, st := range s.hosts {
			if st.link != nil {
				st.link.close()
				st.link = nil
			}
		}
		s.mu.Unlock()

		s.wg.Wait()
		slog.Info("Connection supervisor stopped")
	})
}

// Status is the in-memory status. Unknown hosts report UNCONNECTED.
func (s *Supervisor) Status(hostID string) hosts.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.hosts[hostID]; ok {
		return st.status
	}
	return hosts.StatusUnconnected
}

// Send queues a frame on the host's agent link.
func (s *Supervisor) Send(ctx context.Context, hostID string, env protocol.Envelope) error {
	s.mu.RLock()
	var link *agentLink
	if st, ok := s.hosts[hostID]; ok {
		link = st.link
	}
	s.mu.RUnlock()

	if link == nil {
		return fmt.Errorf("%w: %s", ErrNoLink, hostID)
	}
	return link.send(ctx, env)
}

// Load seeds in-memory state from the store. A host persisted as ONLINE has
// no link after a restart and is moved to OFFLINE. The returned records carry
// the in-memory status.
func (s *Supervisor) Load(ctx context.Context) ([]hosts.Host, error) {
	list, err := s.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load hosts: %w", err)
	}
	for i := range list {
		s.track(&list[i])
		list[i].Status = s.Status(list[i].ID)
	}
	return list, nil
}

// Track registers or refreshes a host record, e.g. after create or update.
func (s *Supervisor) Track(h *hosts.Host) {
	s.track(h)
}

func (s *Supervisor) track(h *hosts.Host) *hostState {
	s.mu.Lock()
	st, ok := s.hosts[h.ID]
	if ok {
		st.interval = h.HeartbeatPeriod()
		s.mu.Unlock()
		return st
	}

	st = &hostState{
		status:        h.Status,
		interval:      h.HeartbeatPeriod(),
		lastHeartbeat: h.LastHeartbeat,
		os:            h.OS,
	}
	if !st.status.Valid() {
		st.status = hosts.StatusUnconnected
	}
	s.hosts[h.ID] = st

	var c change
	restarted := st.status == hosts.StatusOnline
	if restarted {
		c, _ = s.transitionLocked(h.ID, st, hosts.StatusOffline)
	}
	s.mu.Unlock()

	if restarted {
		s.dispatch(c, reasonRestarted)
	}
	return st
}

// Forget closes the link and drops state for a deleted host.
func (s *Supervisor) Forget(hostID string) {
	s.mu.Lock()
	st, ok := s.hosts[hostID]
	delete(s.hosts, hostID)
	s.mu.Unlock()

	if ok && st.link != nil {
		st.link.close()
	}
	if ok {
		slog.Info("Host forgotten", "host_id", hostID, "reason", reasonHostRemoved)
	}
}

// Connect dials the host gateway and installs the agent link. Concurrent
// calls for the same host share one dial.
func (s *Supervisor) Connect(ctx context.Context, hostID string) error {
	_, err, shared := s.group.Do(hostID, func() (any, error) {
		return nil, s.connect(ctx, hostID)
	})
	if shared {
		slog.Debug("Connect collapsed into in-flight dial", "host_id", hostID)
	}
	return err
}

func (s *Supervisor) connect(ctx context.Context, hostID string) error {
	host, err := s.store.Get(ctx, hostID)
	if err != nil {
		return err
	}
	st := s.track(host)

	s.mu.Lock()
	if st.status == hosts.StatusMaintenance {
		s.mu.Unlock()
		return ErrInMaintenance
	}
	if st.liveLink() {
		now := s.now()
		st.lastHeartbeat = &now
		c, _ := s.transitionLocked(hostID, st, hosts.StatusOnline)
		s.mu.Unlock()
		s.dispatch(c, "refresh")
		metrics.ConnectAttempts.WithLabelValues("refreshed").Inc()
		return nil
	}
	s.mu.Unlock()

	wsURL, err := buildWsURL(host.GatewayURL)
	if err != nil {
		reason := ReasonUnreachable
		if host.GatewayURL == "" {
			reason = ReasonNoGateway
		}
		return s.connectFailed(hostID, st, &ConnectFailed{Reason: reason, Err: err})
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("X-Agent-Secret", host.SecretKey)
	header.Set("Authorization", "Bearer "+host.SecretKey)

	slog.Info("Connecting to host agent", "host_id", hostID, "url", wsURL)

	conn, resp, err := s.dialer.DialContext(dialCtx, wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return s.connectFailed(hostID, st, classifyDialError(dialCtx, resp, err))
	}

	link := newAgentLink(hostID, conn)
	s.install(hostID, st, link)
	metrics.ConnectAttempts.WithLabelValues("success").Inc()
	return nil
}

func (s *Supervisor) install(hostID string, st *hostState, link *agentLink) {
	s.mu.Lock()
	previous := st.link
	st.link = link
	now := s.now()
	st.lastSeen = now
	st.lastHeartbeat = &now

	var c change
	if st.status == hosts.StatusMaintenance {
		c = st.snapshot(hostID, st.status)
	} else {
		c, _ = s.transitionLocked(hostID, st, hosts.StatusOnline)
	}
	s.mu.Unlock()

	if previous != nil {
		previous.close()
	}
	metrics.AgentLinks.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reason := link.serve(s.handleFrame)
		metrics.AgentLinks.Dec()
		s.linkClosed(link, reason)
	}()

	slog.Info("Host agent connected", "host_id", hostID, "status", c.to)
	s.dispatch(c, "connected")
}

func (s *Supervisor) connectFailed(hostID string, st *hostState, cf *ConnectFailed) error {
	metrics.ConnectAttempts.WithLabelValues(cf.Reason).Inc()

	s.mu.Lock()
	var c change
	var teardown *agentLink
	if st.status == hosts.StatusOnline && !st.liveLink() && st.lastHeartbeat != nil &&
		s.now().Sub(*st.lastHeartbeat) <= st.interval {
		teardown = st.link
		st.link = nil
		c, _ = s.transitionLocked(hostID, st, hosts.StatusException)
	}
	s.mu.Unlock()

	slog.Warn("Connect to host failed", "host_id", hostID, "reason", cf.Reason, "error", cf.Err)

	if c.transitioned() {
		if teardown != nil {
			teardown.close()
		}
		s.dispatch(c, cf.Reason)
		s.console.DisconnectHost(hostID, "connect failed: "+cf.Reason)
	}
	return cf
}

func classifyDialError(ctx context.Context, resp *http.Response, err error) *ConnectFailed {
	if resp != nil {
		return &ConnectFailed{
			Reason: ReasonRejected,
			Err:    fmt.Errorf("handshake status %d: %w", resp.StatusCode, err),
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ConnectFailed{Reason: ReasonTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectFailed{Reason: ReasonTimeout, Err: err}
	}
	return &ConnectFailed{Reason: ReasonUnreachable, Err: err}
}

// EnterMaintenance suspends heartbeat enforcement. The link and viewers stay.
func (s *Supervisor) EnterMaintenance(ctx context.Context, hostID string) error {
	host, err := s.store.Get(ctx, hostID)
	if err != nil {
		return err
	}
	st := s.track(host)

	s.mu.Lock()
	c, err := s.transitionLocked(hostID, st, hosts.StatusMaintenance)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.dispatch(c, "operator")
	return nil
}

// ExitMaintenance moves the host to OFFLINE. Any remaining link is closed;
// the operator reconnects explicitly.
func (s *Supervisor) ExitMaintenance(ctx context.Context, hostID string) error {
	host, err := s.store.Get(ctx, hostID)
	if err != nil {
		return err
	}
	st := s.track(host)

	s.mu.Lock()
	if st.status != hosts.StatusMaintenance {
		from := st.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is not in maintenance (%s)", ErrInvalidTransition, hostID, from)
	}
	c, err := s.transitionLocked(hostID, st, hosts.StatusOffline)
	link := st.link
	st.link = nil
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if link != nil {
		link.close()
	}
	s.dispatch(c, "operator")
	s.console.DisconnectHost(hostID, reasonMaintenanceEnded)
	return nil
}

// transitionLocked applies a status change. Caller holds s.mu and must
// dispatch the returned change after unlocking.
func (s *Supervisor) transitionLocked(hostID string, st *hostState, to hosts.Status) (change, error) {
	from := st.status
	if !CanTransition(from, to) {
		return change{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	st.status = to
	return st.snapshot(hostID, from), nil
}

// dispatch persists the change, records metrics and informs observers.
// Must be called without s.mu held.
func (s *Supervisor) dispatch(c change, cause string) {
	if c.hostID == "" {
		return
	}

	if c.transitioned() {
		metrics.HostTransitions.WithLabelValues(string(c.to)).Inc()
		slog.Info("Host status changed",
			"host_id", c.hostID,
			"from", c.from,
			"to", c.to,
			"cause", cause)

		s.mu.RLock()
		observers := make([]Observer, len(s.observers))
		copy(observers, s.observers)
		s.mu.RUnlock()
		for _, o := range observers {
			o(c.hostID, c.from, c.to)
		}
	}

	select {
	case s.persistCh <- c:
	case <-s.stopCh:
	}
}

func (s *Supervisor) persistLoop() {
	defer s.wg.Done()
	for {
		select {
		case c := <-s.persistCh:
			s.persist(c)
		case <-s.stopCh:
			for {
				select {
				case c := <-s.persistCh:
					s.persist(c)
				default:
					return
				}
			}
		}
	}
}

func (s *Supervisor) persist(c change) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := s.store.UpdateConnectionState(ctx, c.hostID, hosts.ConnectionState{
		Status:        c.to,
		LastHeartbeat: c.lastHeartbeat,
		OS:            c.os,
	})
	if err != nil && !errors.Is(err, hosts.ErrHostNotFound) {
		slog.Error("Failed to persist host connection state", "host_id", c.hostID, "status", c.to, "error", err)
	}
}

func (s *Supervisor) linkClosed(link *agentLink, reason string) {
	hostID := link.hostID

	s.mu.Lock()
	st, ok := s.hosts[hostID]
	if !ok || st.link != link {
		s.mu.Unlock()
		slog.Debug("Superseded agent link closed", "host_id", hostID, "reason", reason)
		return
	}
	st.link = nil

	var c change
	if st.status == hosts.StatusOnline {
		c, _ = s.transitionLocked(hostID, st, hosts.StatusOffline)
	}
	s.mu.Unlock()

	slog.Info("Host agent link closed", "host_id", hostID, "reason", reason)
	s.dispatch(c, reason)
	s.console.DisconnectHost(hostID, reason)
}

func (s *Supervisor) handleFrame(link *agentLink, env protocol.Envelope) {
	hostID := link.hostID

	s.mu.Lock()
	st, ok := s.hosts[hostID]
	if !ok || st.link != link {
		s.mu.Unlock()
		return
	}
	st.lastSeen = s.now()
	s.mu.Unlock()

	switch env.Type {
	case protocol.TypeLog:
		s.console.Publish(hostID, logLine(env))
	case protocol.TypeHeartbeat:
		s.handleHeartbeat(link, env)
	case protocol.TypeExecResult:
		var result protocol.ExecResultContent
		if err := env.DecodeContent(&result); err != nil {
			slog.Warn("Malformed EXEC_RESULT", "host_id", hostID, "error", err)
			return
		}
		slog.Info("Command finished",
			"host_id", hostID,
			"request_id", env.RequestID,
			"status", result.Status,
			"exit_code", result.ExitCode,
			"duration_ms", result.DurationMs)
		s.console.Publish(hostID, result.Summary(env.RequestID))
	default:
		slog.Debug("Ignoring agent frame", "host_id", hostID, "type", env.Type)
	}
}

func (s *Supervisor) handleHeartbeat(link *agentLink, env protocol.Envelope) {
	hostID := link.hostID

	var hb protocol.HeartbeatContent
	if len(env.Content) > 0 {
		if err := env.DecodeContent(&hb); err != nil {
			slog.Warn("Malformed HEARTBEAT", "host_id", hostID, "error", err)
		}
	}

	s.mu.Lock()
	st, ok := s.hosts[hostID]
	if !ok || st.link != link {
		s.mu.Unlock()
		return
	}
	now := s.now()
	st.lastHeartbeat = &now
	if hb.OsType != "" {
		st.os = hb.OsType
	}

	faulted := hb.Status != "" && hb.Status != string(hosts.StatusOnline) && st.status == hosts.StatusOnline
	var c change
	if faulted {
		c, _ = s.transitionLocked(hostID, st, hosts.StatusException)
		st.link = nil
	} else {
		c = st.snapshot(hostID, st.status)
	}
	s.mu.Unlock()

	if faulted {
		slog.Warn("Agent reported fault", "host_id", hostID, "agent_status", hb.Status)
		link.close()
		s.dispatch(c, reasonAgentFault)
		s.console.DisconnectHost(hostID, reasonAgentFault+": "+hb.Status)
		return
	}

	s.dispatch(c, "heartbeat")
	s.console.Notify(hostID, protocol.Heartbeat{})
}

func logLine(env protocol.Envelope) string {
	var line string
	if err := env.DecodeContent(&line); err == nil {
		return line
	}
	return string(env.Content)
}

func (s *Supervisor) monitorLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkHeartbeats()
		case <-s.stopCh:
			return
		}
	}
}

type timeout struct {
	change  change
	link    *agentLink
	silence time.Duration
}

// checkHeartbeats moves every ONLINE host silent for more than twice its
// interval to OFFLINE. MAINTENANCE hosts are skipped.
func (s *Supervisor) checkHeartbeats() {
	now := s.now()

	s.mu.Lock()
	var expired []timeout
	for id, st := range s.hosts {
		if st.status != hosts.StatusOnline {
			continue
		}
		silence := now.Sub(st.lastSeen)
		if silence <= 2*st.interval {
			continue
		}
		c, err := s.transitionLocked(id, st, hosts.StatusOffline)
		if err != nil {
			continue
		}
		expired = append(expired, timeout{change: c, link: st.link, silence: silence})
		st.link = nil
	}
	s.mu.Unlock()

	for _, t := range expired {
		if t.link != nil {
			t.link.close()
		}
		metrics.HeartbeatTimeouts.Inc()
		slog.Warn("Host heartbeat timed out",
			"host_id", t.change.hostID,
			"from", t.change.from,
			"to", t.change.to,
			"silence", t.silence)
		s.dispatch(t.change, reasonHeartbeatTimeout)
		s.console.DisconnectHost(t.change.hostID, reasonHeartbeatTimeout)
	}
}

func skipReconnect(status hosts.Status) bool {
	switch status {
	case hosts.StatusUnconnected, hosts.StatusException, hosts.StatusMaintenance:
		return true
	}
	return false
}

// ReconnectAll loads every host and dials those that were connected before.
// Failures are logged, never returned.
func (s *Supervisor) ReconnectAll(ctx context.Context) error {
	list, err := s.Load(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(list))
	for _, h := range list {
		if skipReconnect(s.Status(h.ID)) {
			continue
		}
		ids = append(ids, h.ID)
	}

	connected := s.connectMany(ctx, ids)
	slog.Info("Startup reconnect finished", "candidates", len(ids), "connected", connected)
	return nil
}

func (s *Supervisor) reconnectOffline(ctx context.Context) {
	s.mu.RLock()
	var ids []string
	for id, st := range s.hosts {
		if st.status == hosts.StatusOffline && !st.liveLink() {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	if len(ids) == 0 {
		return
	}
	connected := s.connectMany(ctx, ids)
	slog.Info("Scheduled reconnect finished", "candidates", len(ids), "connected", connected)
}

func (s *Supervisor) connectMany(ctx context.Context, ids []string) int {
	var g errgroup.Group
	g.SetLimit(s.cfg.ReconnectConcurrency)

	var mu sync.Mutex
	connected := 0
	for _, id := range ids {
		g.Go(func() error {
			if err := s.Connect(ctx, id); err != nil {
				slog.Warn("Reconnect failed", "host_id", id, "error", err)
				return nil
			}
			mu.Lock()
			connected++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return connected
}

func (s *Supervisor) reconnectLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reconnectOffline(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

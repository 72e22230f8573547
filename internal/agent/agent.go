package agent

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/easy-station/hostlink/internal/console"
	"github.com/easy-station/hostlink/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	historySize       = 100
	sendChannelBuffer = 100
	sendTimeout       = 5 * time.Second
	writeWait         = 10 * time.Second
	maxFrameSize      = 1024 * 1024

	shellUnavailable = "Interactive shell not available. Please use Command Palette."
)

var ErrNotConnected = errors.New("no server connected")

type Config struct {
	ListenPort        int           `mapstructure:"listen_port"`
	HostID            string        `mapstructure:"host_id"`
	SecretKey         string        `mapstructure:"secret_key"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LogFile           string        `mapstructure:"log_file"`
}

func (c Config) withDefaults() Config {
	if c.ListenPort <= 0 {
		c.ListenPort = 9090
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	return c
}

func (c Config) Validate() error {
	if c.HostID == "" {
		return errors.New("host_id is required")
	}
	if c.SecretKey == "" {
		return errors.New("secret_key is required")
	}
	return nil
}

// Agent is the host-side process the server dials. It accepts one server
// connection at a time; a newer connection replaces the older one.
type Agent struct {
	cfg      Config
	version  string
	history  *console.LogBuffer
	upgrader websocket.Upgrader
	now      func() time.Time

	outMu sync.Mutex
	out   io.Writer
	file  *os.File

	mu   sync.Mutex
	peer *peer
}

func New(cfg Config, version string) *Agent {
	return &Agent{
		cfg:     cfg.withDefaults(),
		version: version,
		history: console.NewLogBuffer(historySize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
		out: os.Stdout,
	}
}

// OpenLogFile appends console lines to path in addition to stdout.
func (a *Agent) OpenLogFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	a.outMu.Lock()
	a.file = f
	a.out = io.MultiWriter(os.Stdout, f)
	a.outMu.Unlock()
	return nil
}

func (a *Agent) Close() error {
	a.mu.Lock()
	p := a.peer
	a.peer = nil
	a.mu.Unlock()
	if p != nil {
		p.close()
	}

	a.outMu.Lock()
	defer a.outMu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		a.out = os.Stdout
		return err
	}
	return nil
}

func (a *Agent) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/ws", a.serveWS)
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"hostId":    a.cfg.HostID,
			"version":   a.version,
			"connected": a.connected(),
		})
	})
	return engine
}

// Run serves /ws and sends heartbeats until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.ListenPort),
		Handler: a.Handler(),
	}

	go a.heartbeatLoop(ctx)

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Agent listening", "address", server.Addr, "host_id", a.cfg.HostID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	a.Log(fmt.Sprintf("Host Agent %s started. Listening on port %d", a.cfg.HostID, a.cfg.ListenPort))

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("agent shutdown: %w", err)
	}
	return nil
}

func (a *Agent) authorized(r *http.Request) bool {
	candidates := []string{
		r.Header.Get("X-Agent-Secret"),
		strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		r.URL.Query().Get("secret"),
	}
	for _, c := range candidates {
		if c != "" && subtle.ConstantTimeCompare([]byte(c), []byte(a.cfg.SecretKey)) == 1 {
			return true
		}
	}
	return false
}

func (a *Agent) serveWS(c *gin.Context) {
	if !a.authorized(c.Request) {
		slog.Warn("Rejected server connection", "remote_addr", c.Request.RemoteAddr)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Upgrade failed", "error", err)
		return
	}

	p := newPeer(conn)
	a.mu.Lock()
	old := a.peer
	a.peer = p
	a.mu.Unlock()
	if old != nil {
		slog.Info("Replacing previous server connection")
		old.close()
	}

	slog.Info("Server connected", "remote_addr", c.Request.RemoteAddr)
	go p.writePump()
	_ = a.sendHeartbeat()

	conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Server connection read error", "error", err)
			}
			break
		}
		a.handleFrame(protocol.DecodeEnvelope(data))
	}

	p.close()
	a.mu.Lock()
	if a.peer == p {
		a.peer = nil
	}
	a.mu.Unlock()
	slog.Info("Server disconnected", "remote_addr", c.Request.RemoteAddr)
}

func (a *Agent) connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peer != nil
}

func (a *Agent) send(env protocol.Envelope) error {
	a.mu.Lock()
	p := a.peer
	a.mu.Unlock()
	if p == nil {
		return ErrNotConnected
	}
	return p.enqueue(env)
}

func (a *Agent) handleFrame(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeFetchLogs:
		a.sendHistory()
	case protocol.TypeExecCmd:
		var req protocol.ExecCmdContent
		if err := env.DecodeContent(&req); err != nil {
			a.Log(fmt.Sprintf("Invalid EXEC_CMD: %v", err))
			return
		}
		requestID := env.RequestID
		if requestID == "" {
			requestID = fmt.Sprintf("cmd-%d", a.now().UnixNano())
		}
		var timeout time.Duration
		if req.TimeoutMs != nil && *req.TimeoutMs > 0 {
			timeout = time.Duration(*req.TimeoutMs) * time.Millisecond
		}
		go a.execute(requestID, req.Command, timeout)
	case protocol.TypeInput:
		var in protocol.InputContent
		if err := env.DecodeContent(&in); err == nil && in.Content != "" {
			a.Log(shellUnavailable)
		}
	default:
		a.Log(fmt.Sprintf("Unsupported message type: %s", env.Type))
	}
}

// Log records a console line and forwards it to the server when connected.
func (a *Agent) Log(line string) {
	stamped := fmt.Sprintf("[%s] %s", a.now().Format("2006-01-02 15:04:05"), line)
	a.history.Append(stamped)

	a.outMu.Lock()
	_, _ = fmt.Fprintln(a.out, stamped)
	a.outMu.Unlock()

	env, err := protocol.NewEnvelope(protocol.TypeLog, line)
	if err != nil {
		return
	}
	if err := a.send(env); err != nil && !errors.Is(err, ErrNotConnected) {
		slog.Debug("Dropped log line", "error", err)
	}
}

func (a *Agent) sendHistory() {
	env, err := protocol.NewEnvelope(protocol.TypeLogHistory, a.history.Lines())
	if err != nil {
		return
	}
	if err := a.send(env); err != nil {
		slog.Debug("LOG_HISTORY not sent", "error", err)
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.sendHeartbeat(); err != nil && !errors.Is(err, ErrNotConnected) {
				slog.Warn("Heartbeat failed", "error", err)
			}
		}
	}
}

func (a *Agent) sendHeartbeat() error {
	now := a.now()
	env, err := protocol.NewEnvelopeWithID(fmt.Sprintf("hb-%d", now.UnixNano()), protocol.TypeHeartbeat,
		protocol.HeartbeatContent{
			AgentID:   a.cfg.HostID,
			Status:    "ONLINE",
			Timestamp: now,
			Version:   a.version,
			OsType:    osType(),
		})
	if err != nil {
		return err
	}
	return a.send(env)
}

func osType() string {
	switch runtime.GOOS {
	case "linux":
		if _, err := os.Stat("/.dockerenv"); err == nil {
			return "LINUX_DOCKER"
		}
		return "LINUX"
	case "windows":
		return "WINDOWS"
	case "darwin":
		return "MACOS"
	default:
		return strings.ToUpper(runtime.GOOS)
	}
}

// peer is the single server connection. All writes go through writePump.
type peer struct {
	conn      *websocket.Conn
	sendCh    chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{
		conn:   conn,
		sendCh: make(chan protocol.Envelope, sendChannelBuffer),
		done:   make(chan struct{}),
	}
}

func (p *peer) enqueue(env protocol.Envelope) error {
	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()

	select {
	case p.sendCh <- env:
		return nil
	case <-p.done:
		return ErrNotConnected
	case <-timer.C:
		return errors.New("send timeout: channel full")
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced"),
			time.Now().Add(writeWait))
		_ = p.conn.Close()
	})
}

func (p *peer) writePump() {
	for {
		select {
		case <-p.done:
			return
		case env := <-p.sendCh:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(env); err != nil {
				slog.Warn("Write to server failed", "error", err)
				p.close()
				return
			}
		}
	}
}

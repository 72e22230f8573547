package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/easy-station/hostlink/internal/hosts"
	"github.com/easy-station/hostlink/internal/metrics"
	"github.com/easy-station/hostlink/internal/protocol"
)

var (
	ErrHostNotOnline      = errors.New("host not online")
	ErrSessionNotAttached = errors.New("console session not attached")
	ErrDuplicateSession   = errors.New("console session already attached")
	ErrViewerClosed       = errors.New("viewer closed")
)

const (
	ReasonViewerTooSlow = "viewer too slow"
	execEchoPrefix      = "$ "
)

// Link is what the bridge needs from the connection supervisor: the
// current status of a host and a way to reach its agent.
type Link interface {
	Status(hostID string) hosts.Status
	Send(ctx context.Context, hostID string, env protocol.Envelope) error
}

// Viewer is one attached console endpoint. Enqueue must not block.
type Viewer interface {
	ID() string
	Enqueue(msg protocol.ViewerMessage) bool
	Close(reason string)
}

type hostChannel struct {
	mu      sync.Mutex
	buffer  *LogBuffer
	viewers map[string]Viewer
}

// Bridge fans agent output out to every viewer of a host and forwards
// viewer input to the host's single upstream link.
type Bridge struct {
	mu       sync.RWMutex
	hosts    map[string]*hostChannel
	link     Link
	capacity int
}

func NewBridge(capacity int) *Bridge {
	if capacity <= 0 {
		capacity = DefaultLogBufferSize
	}
	return &Bridge{
		hosts:    make(map[string]*hostChannel),
		capacity: capacity,
	}
}

// SetLink wires the supervisor after both sides are constructed.
func (b *Bridge) SetLink(link Link) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.link = link
}

func (b *Bridge) getLink() Link {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.link
}

func (b *Bridge) channel(hostID string) *hostChannel {
	b.mu.RLock()
	hc, ok := b.hosts[hostID]
	b.mu.RUnlock()
	if ok {
		return hc
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if hc, ok := b.hosts[hostID]; ok {
		return hc
	}
	hc = &hostChannel{
		buffer:  NewLogBuffer(b.capacity),
		viewers: make(map[string]Viewer),
	}
	b.hosts[hostID] = hc
	return hc
}

func (b *Bridge) online(hostID string) bool {
	link := b.getLink()
	return link != nil && link.Status(hostID) == hosts.StatusOnline
}

// Attach registers a viewer for an ONLINE host. The buffered history is
// queued to the viewer before it can observe any live line.
func (b *Bridge) Attach(hostID string, v Viewer) error {
	hc := b.channel(hostID)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	if !b.online(hostID) {
		return ErrHostNotOnline
	}
	if _, exists := hc.viewers[v.ID()]; exists {
		return ErrDuplicateSession
	}
	if !v.Enqueue(protocol.LogHistory{Lines: hc.buffer.Lines()}) {
		return ErrViewerClosed
	}

	hc.viewers[v.ID()] = v
	metrics.ConsoleViewers.Inc()

	slog.Info("Console attached",
		"host_id", hostID,
		"session_id", v.ID(),
		"viewers", len(hc.viewers))
	return nil
}

// Detach removes a viewer. It never touches the upstream link or the buffer.
func (b *Bridge) Detach(hostID, sessionID string) {
	b.mu.RLock()
	hc, ok := b.hosts[hostID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	hc.mu.Lock()
	_, attached := hc.viewers[sessionID]
	delete(hc.viewers, sessionID)
	remaining := len(hc.viewers)
	hc.mu.Unlock()

	if attached {
		metrics.ConsoleViewers.Dec()
		slog.Info("Console detached", "host_id", hostID, "session_id", sessionID, "viewers", remaining)
	}
}

// Publish records one agent line and fans it out. Append and broadcast
// happen under the host lock so every viewer sees the same order.
func (b *Bridge) Publish(hostID, line string) {
	hc := b.channel(hostID)
	msg := protocol.Log{Line: line}

	hc.mu.Lock()
	hc.buffer.Append(line)
	slow := hc.broadcastLocked(msg)
	hc.mu.Unlock()

	metrics.ConsoleLines.Inc()
	closeSlow(hostID, slow)
}

// Notify pushes an informational frame to every viewer without buffering it.
func (b *Bridge) Notify(hostID string, msg protocol.ViewerMessage) {
	b.mu.RLock()
	hc, ok := b.hosts[hostID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	hc.mu.Lock()
	slow := hc.broadcastLocked(msg)
	hc.mu.Unlock()

	closeSlow(hostID, slow)
}

func (hc *hostChannel) broadcastLocked(msg protocol.ViewerMessage) []Viewer {
	var slow []Viewer
	for id, v := range hc.viewers {
		if !v.Enqueue(msg) {
			delete(hc.viewers, id)
			slow = append(slow, v)
		}
	}
	return slow
}

func closeSlow(hostID string, slow []Viewer) {
	for _, v := range slow {
		metrics.ConsoleViewers.Dec()
		slog.Warn("Dropping slow console viewer", "host_id", hostID, "session_id", v.ID())
		v.Close(ReasonViewerTooSlow)
	}
}

// History answers FETCH_LOGS for one attached viewer.
func (b *Bridge) History(hostID, sessionID string) error {
	v, err := b.viewer(hostID, sessionID)
	if err != nil {
		return err
	}

	lines := b.channel(hostID).buffer.Lines()
	if !v.Enqueue(protocol.LogHistory{Lines: lines}) {
		return ErrViewerClosed
	}
	return nil
}

// Input forwards raw keystrokes from a viewer to the agent.
func (b *Bridge) Input(ctx context.Context, hostID, sessionID, content string) error {
	if _, err := b.viewer(hostID, sessionID); err != nil {
		return err
	}
	if !b.online(hostID) {
		return ErrHostNotOnline
	}

	env, err := protocol.NewEnvelope(protocol.TypeInput, protocol.InputContent{Content: content})
	if err != nil {
		return err
	}
	if err := b.getLink().Send(ctx, hostID, env); err != nil {
		return fmt.Errorf("forward input: %w", err)
	}
	return nil
}

// Exec echoes the script to the invoking viewer and sends it to the agent
// as EXEC_CMD. A zero timeout leaves the limit to the agent.
func (b *Bridge) Exec(ctx context.Context, hostID, sessionID, script string, timeout time.Duration) (string, error) {
	v, err := b.viewer(hostID, sessionID)
	if err != nil {
		return "", err
	}
	if !b.online(hostID) {
		return "", ErrHostNotOnline
	}

	content := protocol.ExecCmdContent{Command: script}
	if timeout > 0 {
		ms := timeout.Milliseconds()
		content.TimeoutMs = &ms
	}
	env, err := protocol.NewEnvelope(protocol.TypeExecCmd, content)
	if err != nil {
		return "", err
	}

	v.Enqueue(protocol.Log{Line: execEchoPrefix + script})

	if err := b.getLink().Send(ctx, hostID, env); err != nil {
		return "", fmt.Errorf("send exec: %w", err)
	}

	slog.Info("Command dispatched",
		"host_id", hostID,
		"session_id", sessionID,
		"request_id", env.RequestID)
	return env.RequestID, nil
}

// DisconnectHost tells every viewer why the host went away and closes
// their sockets. The buffer is kept for the next attach.
func (b *Bridge) DisconnectHost(hostID, reason string) {
	b.mu.RLock()
	hc, ok := b.hosts[hostID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	hc.mu.Lock()
	viewers := make([]Viewer, 0, len(hc.viewers))
	for _, v := range hc.viewers {
		viewers = append(viewers, v)
	}
	hc.viewers = make(map[string]Viewer)
	hc.mu.Unlock()

	for _, v := range viewers {
		v.Enqueue(protocol.HostDisconnected{Reason: reason})
		v.Close(reason)
		metrics.ConsoleViewers.Dec()
	}

	if len(viewers) > 0 {
		slog.Info("Console sessions closed for host",
			"host_id", hostID,
			"reason", reason,
			"viewers", len(viewers))
	}
}

// Forget drops all state for a deleted host.
func (b *Bridge) Forget(hostID string) {
	b.DisconnectHost(hostID, "host deleted")

	b.mu.Lock()
	delete(b.hosts, hostID)
	b.mu.Unlock()
}

func (b *Bridge) ViewerCount(hostID string) int {
	b.mu.RLock()
	hc, ok := b.hosts[hostID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()
	return len(hc.viewers)
}

func (b *Bridge) IsAttached(hostID, sessionID string) bool {
	_, err := b.viewer(hostID, sessionID)
	return err == nil
}

func (b *Bridge) Lines(hostID string) []string {
	b.mu.RLock()
	hc, ok := b.hosts[hostID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	return hc.buffer.Lines()
}

func (b *Bridge) viewer(hostID, sessionID string) (Viewer, error) {
	b.mu.RLock()
	hc, ok := b.hosts[hostID]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotAttached
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()
	v, ok := hc.viewers[sessionID]
	if !ok {
		return nil, ErrSessionNotAttached
	}
	return v, nil
}

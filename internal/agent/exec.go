package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/easy-station/hostlink/internal/protocol"
)

const (
	previewLimit = 2048

	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusTimeout = "TIMEOUT"
)

// shellCommand wraps a script for the host shell.
func shellCommand(ctx context.Context, script string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd.exe", "/C", script)
	}
	return exec.CommandContext(ctx, "sh", "-c", script)
}

// preview keeps the first previewLimit bytes of combined output.
type preview struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (p *preview) add(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf.Len() >= previewLimit {
		return
	}
	room := previewLimit - p.buf.Len()
	if len(line)+1 > room {
		p.buf.WriteString((line + "\n")[:room])
		return
	}
	p.buf.WriteString(line)
	p.buf.WriteByte('\n')
}

func (p *preview) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

// Execute runs script, streaming each output line through logf, and
// reports the outcome. A zero timeout means no limit.
func Execute(ctx context.Context, script string, timeout time.Duration, logf func(string)) protocol.ExecResultContent {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	result := protocol.ExecResultContent{StartedAt: started.UTC().Format(time.RFC3339)}
	finish := func() protocol.ExecResultContent {
		finished := time.Now()
		result.FinishedAt = finished.UTC().Format(time.RFC3339)
		result.DurationMs = finished.Sub(started).Milliseconds()
		return result
	}

	out := &preview{}
	stdout := &lineWriter{emit: func(line string) { out.add(line); logf(line) }}
	stderr := &lineWriter{emit: func(line string) { out.add(line); logf("[stderr] " + line) }}

	cmd := shellCommand(ctx, script)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	stdout.flush()
	stderr.flush()
	result.OutputPreview = out.String()

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Status = StatusTimeout
		result.ExitCode = -1
		result.ErrorMessage = "command timed out"
	case err == nil:
		result.Status = StatusSuccess
	default:
		result.Status = StatusFailed
		result.ExitCode = 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			result.ExitCode = exitErr.ExitCode()
		}
		result.ErrorMessage = err.Error()
	}
	return finish()
}

// lineWriter calls emit once per complete line written to it.
type lineWriter struct {
	mu      sync.Mutex
	pending []byte
	emit    func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimSuffix(string(w.pending[:i]), "\r"))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.emit(string(w.pending))
		w.pending = nil
	}
}

func (a *Agent) execute(requestID, script string, timeout time.Duration) {
	a.Log(fmt.Sprintf("$ %s", script))

	result := Execute(context.Background(), script, timeout, a.Log)

	env, err := protocol.NewEnvelopeWithID(requestID, protocol.TypeExecResult, result)
	if err != nil {
		slog.Error("Failed to encode EXEC_RESULT", "request_id", requestID, "error", err)
		return
	}
	if err := a.send(env); err != nil {
		slog.Warn("EXEC_RESULT not delivered", "request_id", requestID, "error", err)
	}
	slog.Info("Command finished", "request_id", requestID, "status", result.Status, "exit_code", result.ExitCode)
}

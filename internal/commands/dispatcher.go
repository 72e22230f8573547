package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/easy-station/hostlink/internal/console"
	"github.com/easy-station/hostlink/internal/hosts"
	"github.com/easy-station/hostlink/internal/templates"
)

var (
	ErrNoTemplateForOs  = errors.New("no unique LOCAL template for host OS")
	ErrCommandNotFound  = errors.New("command not found")
	ErrHostNotOnline    = console.ErrHostNotOnline
	ErrSessionNotActive = console.ErrSessionNotAttached
)

type HostReader interface {
	Get(ctx context.Context, id string) (*hosts.Host, error)
}

type TemplateLister interface {
	List(ctx context.Context) ([]templates.Template, error)
}

type StatusReader interface {
	Status(hostID string) hosts.Status
}

// Console is the part of the bridge that injects scripts into a session.
type Console interface {
	IsAttached(hostID, sessionID string) bool
	Exec(ctx context.Context, hostID, sessionID, script string, timeout time.Duration) (string, error)
}

type Dispatcher struct {
	hosts     HostReader
	templates TemplateLister
	status    StatusReader
	console   Console
}

func NewDispatcher(hosts HostReader, templates TemplateLister, status StatusReader, console Console) *Dispatcher {
	return &Dispatcher{
		hosts:     hosts,
		templates: templates,
		status:    status,
		console:   console,
	}
}

// Resolve returns the commands of the single LOCAL template whose OS type
// matches hostOS exactly.
func (d *Dispatcher) Resolve(ctx context.Context, hostOS string) ([]templates.Command, error) {
	osType, err := templates.NormalizeOS(hostOS)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTemplateForOs, err)
	}

	list, err := d.templates.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	var matched []templates.Template
	for _, t := range list {
		if t.SourceType() == templates.SourceLocal && t.OSType == osType {
			matched = append(matched, t)
		}
	}

	switch len(matched) {
	case 1:
		return matched[0].Commands, nil
	case 0:
		return nil, fmt.Errorf("%w: %s has none", ErrNoTemplateForOs, osType)
	default:
		return nil, fmt.Errorf("%w: %s has %d", ErrNoTemplateForOs, osType, len(matched))
	}
}

// ResolveForHost is Resolve on the host's recorded OS.
func (d *Dispatcher) ResolveForHost(ctx context.Context, hostID string) ([]templates.Command, error) {
	host, err := d.hosts.Get(ctx, hostID)
	if err != nil {
		return nil, err
	}
	return d.Resolve(ctx, host.OS)
}

// Execute injects a named template command into an attached console
// session. It returns the request id of the EXEC_CMD; the result arrives
// later as console output.
func (d *Dispatcher) Execute(ctx context.Context, hostID, sessionID, name, args string) (string, error) {
	host, err := d.hosts.Get(ctx, hostID)
	if err != nil {
		return "", err
	}
	if d.status.Status(hostID) != hosts.StatusOnline {
		return "", ErrHostNotOnline
	}
	if !d.console.IsAttached(hostID, sessionID) {
		return "", ErrSessionNotActive
	}

	commands, err := d.Resolve(ctx, host.OS)
	if err != nil {
		return "", err
	}

	var cmd *templates.Command
	for i := range commands {
		if commands[i].Name == name {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		return "", fmt.Errorf("%w: %s", ErrCommandNotFound, name)
	}

	script := BuildScript(cmd.Script, args, cmd.DefaultArgs)
	timeout := time.Duration(cmd.Timeout) * time.Second
	if cmd.Timeout <= 0 {
		timeout = templates.DefaultCommandTimeout * time.Second
	}

	requestID, err := d.console.Exec(ctx, hostID, sessionID, script, timeout)
	if err != nil {
		return "", err
	}

	slog.Info("Template command executed",
		"host_id", hostID,
		"session_id", sessionID,
		"command", name,
		"request_id", requestID)
	return requestID, nil
}

// BuildScript appends args to the script, falling back to the command's
// default args when none are given.
func BuildScript(script, args, defaultArgs string) string {
	args = strings.TrimSpace(args)
	if args == "" {
		args = strings.TrimSpace(defaultArgs)
	}
	if args == "" {
		return script
	}
	return script + " " + args
}

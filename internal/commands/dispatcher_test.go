package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/easy-station/hostlink/internal/hosts"
	"github.com/easy-station/hostlink/internal/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockHosts struct {
	mock.Mock
}

func (m *MockHosts) Get(ctx context.Context, id string) (*hosts.Host, error) {
	args := m.Called(ctx, id)
	h, _ := args.Get(0).(*hosts.Host)
	return h, args.Error(1)
}

type MockTemplates struct {
	mock.Mock
}

func (m *MockTemplates) List(ctx context.Context) ([]templates.Template, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]templates.Template)
	return list, args.Error(1)
}

type MockConsole struct {
	mock.Mock
}

func (m *MockConsole) IsAttached(hostID, sessionID string) bool {
	return m.Called(hostID, sessionID).Bool(0)
}

func (m *MockConsole) Exec(ctx context.Context, hostID, sessionID, script string, timeout time.Duration) (string, error) {
	args := m.Called(ctx, hostID, sessionID, script, timeout)
	return args.String(0), args.Error(1)
}

type staticStatus map[string]hosts.Status

func (s staticStatus) Status(hostID string) hosts.Status {
	if st, ok := s[hostID]; ok {
		return st
	}
	return hosts.StatusUnconnected
}

func localTemplate(os templates.OSType, commands ...templates.Command) templates.Template {
	return templates.Template{
		ID:       "tpl-" + string(os),
		Name:     "agent " + string(os),
		OSType:   os,
		Source:   &templates.Source{ID: "src-1", Type: templates.SourceLocal},
		Commands: commands,
	}
}

func setupDispatcher(list []templates.Template, status staticStatus) (*Dispatcher, *MockHosts, *MockConsole) {
	h := new(MockHosts)
	tpl := new(MockTemplates)
	tpl.On("List", mock.Anything).Return(list, nil)
	c := new(MockConsole)
	return NewDispatcher(h, tpl, status, c), h, c
}

func TestResolve_SingleMatch(t *testing.T) {
	restart := templates.Command{Name: "restart", Script: "systemctl restart app"}
	d, _, _ := setupDispatcher([]templates.Template{
		localTemplate(templates.OSLinux, restart),
		localTemplate(templates.OSWindows),
	}, nil)

	cmds, err := d.Resolve(context.Background(), "linux")
	require.NoError(t, err)
	assert.Equal(t, []templates.Command{restart}, cmds)
}

func TestResolve_NoMatch(t *testing.T) {
	d, _, _ := setupDispatcher([]templates.Template{localTemplate(templates.OSWindows)}, nil)

	_, err := d.Resolve(context.Background(), "LINUX")
	assert.ErrorIs(t, err, ErrNoTemplateForOs)
}

func TestResolve_AmbiguousMatch(t *testing.T) {
	d, _, _ := setupDispatcher([]templates.Template{
		localTemplate(templates.OSLinux),
		localTemplate(templates.OSLinux),
	}, nil)

	_, err := d.Resolve(context.Background(), "LINUX")
	assert.ErrorIs(t, err, ErrNoTemplateForOs)
}

func TestResolve_IgnoresNonLocalAndAll(t *testing.T) {
	remote := localTemplate(templates.OSLinux)
	remote.Source = &templates.Source{ID: "src-2", Type: templates.SourceHTTPS}
	d, _, _ := setupDispatcher([]templates.Template{remote, localTemplate(templates.OSAll)}, nil)

	_, err := d.Resolve(context.Background(), "LINUX")
	assert.ErrorIs(t, err, ErrNoTemplateForOs)
}

func TestResolve_UnsupportedOS(t *testing.T) {
	d, _, _ := setupDispatcher(nil, nil)

	_, err := d.Resolve(context.Background(), "plan9")
	assert.ErrorIs(t, err, ErrNoTemplateForOs)
	assert.ErrorIs(t, err, templates.ErrUnsupportedOS)
}

func TestResolve_ListError(t *testing.T) {
	tpl := new(MockTemplates)
	tpl.On("List", mock.Anything).Return(nil, errors.New("db down"))
	d := NewDispatcher(new(MockHosts), tpl, staticStatus{}, new(MockConsole))

	_, err := d.Resolve(context.Background(), "LINUX")
	assert.ErrorContains(t, err, "db down")
}

func TestExecute(t *testing.T) {
	diskUsage := templates.Command{Name: "disk", Script: "df", Timeout: 10, DefaultArgs: "-h"}
	list := []templates.Template{localTemplate(templates.OSLinux, diskUsage)}
	host := &hosts.Host{ID: "h1", OS: "LINUX"}

	t.Run("uses default args", func(t *testing.T) {
		d, h, c := setupDispatcher(list, staticStatus{"h1": hosts.StatusOnline})
		h.On("Get", mock.Anything, "h1").Return(host, nil)
		c.On("IsAttached", "h1", "s1").Return(true)
		c.On("Exec", mock.Anything, "h1", "s1", "df -h", 10*time.Second).Return("req-1", nil)

		id, err := d.Execute(context.Background(), "h1", "s1", "disk", "")
		require.NoError(t, err)
		assert.Equal(t, "req-1", id)
		c.AssertExpectations(t)
	})

	t.Run("explicit args win", func(t *testing.T) {
		d, h, c := setupDispatcher(list, staticStatus{"h1": hosts.StatusOnline})
		h.On("Get", mock.Anything, "h1").Return(host, nil)
		c.On("IsAttached", "h1", "s1").Return(true)
		c.On("Exec", mock.Anything, "h1", "s1", "df /var", 10*time.Second).Return("req-2", nil)

		_, err := d.Execute(context.Background(), "h1", "s1", "disk", "/var")
		require.NoError(t, err)
		c.AssertExpectations(t)
	})

	t.Run("host offline", func(t *testing.T) {
		d, h, c := setupDispatcher(list, staticStatus{"h1": hosts.StatusOffline})
		h.On("Get", mock.Anything, "h1").Return(host, nil)

		_, err := d.Execute(context.Background(), "h1", "s1", "disk", "")
		assert.ErrorIs(t, err, ErrHostNotOnline)
		c.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("session not attached", func(t *testing.T) {
		d, h, c := setupDispatcher(list, staticStatus{"h1": hosts.StatusOnline})
		h.On("Get", mock.Anything, "h1").Return(host, nil)
		c.On("IsAttached", "h1", "s1").Return(false)

		_, err := d.Execute(context.Background(), "h1", "s1", "disk", "")
		assert.ErrorIs(t, err, ErrSessionNotActive)
	})

	t.Run("unknown command", func(t *testing.T) {
		d, h, c := setupDispatcher(list, staticStatus{"h1": hosts.StatusOnline})
		h.On("Get", mock.Anything, "h1").Return(host, nil)
		c.On("IsAttached", "h1", "s1").Return(true)

		_, err := d.Execute(context.Background(), "h1", "s1", "reboot", "")
		assert.ErrorIs(t, err, ErrCommandNotFound)
	})

	t.Run("host missing", func(t *testing.T) {
		d, h, _ := setupDispatcher(list, staticStatus{})
		h.On("Get", mock.Anything, "nope").Return(nil, hosts.ErrHostNotFound)

		_, err := d.Execute(context.Background(), "nope", "s1", "disk", "")
		assert.ErrorIs(t, err, hosts.ErrHostNotFound)
	})
}

func TestBuildScript(t *testing.T) {
	assert.Equal(t, "ls", BuildScript("ls", "", ""))
	assert.Equal(t, "ls -la", BuildScript("ls", "", "-la"))
	assert.Equal(t, "ls /tmp", BuildScript("ls", " /tmp ", "-la"))
}

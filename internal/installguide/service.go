package installguide

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/easy-station/hostlink/internal/hosts"
	"github.com/easy-station/hostlink/internal/templates"
)

const DefaultReleaseBaseURL = "https://github.com/Nnyjk/es-agents/releases/latest/download/"

var ErrSourceMismatch = errors.New("sourceId does not match the agent resource bound to host OS")

type HostReader interface {
	Get(ctx context.Context, id string) (*hosts.Host, error)
}

type TemplateLister interface {
	List(ctx context.Context) ([]templates.Template, error)
}

type Config struct {
	ReleaseBaseURL string `mapstructure:"release_base_url"`
	ArtifactDir    string `mapstructure:"artifact_dir"`
}

// Guide tells an operator how to download, install and run the agent on a
// host. Issuing one has no side effects.
type Guide struct {
	HostID          string   `json:"hostId"`
	SecretKey       string   `json:"secretKey"`
	InstallScript   string   `json:"installScript"`
	DockerCommand   string   `json:"dockerCommand"`
	DownloadURL     string   `json:"downloadUrl"`
	PackageFileName string   `json:"packageFileName"`
	StartCommand    string   `json:"startCommand"`
	StopCommand     string   `json:"stopCommand"`
	UpdateCommand   string   `json:"updateCommand"`
	LogPath         string   `json:"logPath"`
	PidFile         string   `json:"pidFile"`
	Resource        Resource `json:"resource"`
}

// Bundle is a prepared agent package. Write streams it; Close releases the
// underlying artifact.
type Bundle struct {
	FileName    string
	ContentType string
	Resource    Resource

	config string
	binary io.ReadCloser
}

func (b *Bundle) Write(w io.Writer) error {
	return WritePackage(w, b.Resource, b.binary, b.config)
}

func (b *Bundle) Close() error {
	return b.binary.Close()
}

type Service struct {
	hosts     HostReader
	templates TemplateLister
	fetcher   Fetcher
	baseURL   string
}

func NewService(cfg Config, hosts HostReader, templates TemplateLister, fetcher Fetcher) *Service {
	base := cfg.ReleaseBaseURL
	if base == "" {
		base = DefaultReleaseBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Service{
		hosts:     hosts,
		templates: templates,
		fetcher:   fetcher,
		baseURL:   base,
	}
}

func (s *Service) resolve(ctx context.Context, hostID string) (*hosts.Host, Resource, error) {
	host, err := s.hosts.Get(ctx, hostID)
	if err != nil {
		return nil, Resource{}, err
	}
	list, err := s.templates.List(ctx)
	if err != nil {
		return nil, Resource{}, fmt.Errorf("list templates: %w", err)
	}
	res, err := Resolve(host.OS, list)
	if err != nil {
		return nil, Resource{}, err
	}
	return host, res, nil
}

func (s *Service) Guide(ctx context.Context, hostID string) (*Guide, error) {
	host, res, err := s.resolve(ctx, hostID)
	if err != nil {
		return nil, err
	}

	pkg := PackageFileName(res.OSType)
	g := &Guide{
		HostID:          host.ID,
		SecretKey:       host.SecretKey,
		InstallScript:   "./install.sh",
		DownloadURL:     s.baseURL + pkg,
		PackageFileName: pkg,
		StartCommand:    "./start.sh",
		StopCommand:     "./stop.sh",
		UpdateCommand:   "./update.sh <new-package-dir>",
		LogPath:         "./logs/host-agent.log",
		PidFile:         "./host-agent.pid",
		Resource:        res,
	}
	if res.OSType == templates.OSWindows {
		g.InstallScript = "install.bat"
		g.StartCommand = "start.bat"
		g.StopCommand = "stop.bat"
		g.UpdateCommand = "update.bat <new-package-dir>"
		g.LogPath = `.\logs\host-agent.log`
		g.PidFile = `.\host-agent.pid`
	}
	return g, nil
}

func (s *Service) AgentConfig(ctx context.Context, hostID string) (string, error) {
	host, err := s.hosts.Get(ctx, hostID)
	if err != nil {
		return "", err
	}
	return RenderAgentConfig(host)
}

// Package prepares the bundle for a host. sourceID must name the resource
// the host OS resolves to.
func (s *Service) Package(ctx context.Context, hostID, sourceID string) (*Bundle, error) {
	host, res, err := s.resolve(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if sourceID != res.SourceID {
		return nil, fmt.Errorf("%w: %s", ErrSourceMismatch, res.OSType)
	}

	config, err := RenderAgentConfig(host)
	if err != nil {
		return nil, err
	}

	binary, err := s.fetcher.Open(ctx, res.Source)
	if err != nil {
		return nil, err
	}

	slog.Info("Agent package prepared",
		"host_id", hostID,
		"source_id", res.SourceID,
		"file_name", res.FileName,
		"os_type", res.OSType)

	return &Bundle{
		FileName:    PackageFileName(res.OSType),
		ContentType: ContentType(res.OSType),
		Resource:    res,
		config:      config,
		binary:      binary,
	}, nil
}

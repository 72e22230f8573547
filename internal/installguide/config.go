package installguide

import (
	"fmt"
	"strings"

	"github.com/easy-station/hostlink/internal/hosts"
	"gopkg.in/yaml.v3"
)

// AgentConfig mirrors the config.yaml read by cmd/hostlink-agent.
type AgentConfig struct {
	ListenPort        int    `yaml:"listen_port"`
	HostID            string `yaml:"host_id"`
	SecretKey         string `yaml:"secret_key"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
}

func agentConfigFor(h *hosts.Host) AgentConfig {
	port := h.ListenPort
	if port <= 0 {
		port = hosts.DefaultListenPort
	}
	interval := h.HeartbeatInterval
	if interval <= 0 {
		interval = hosts.DefaultHeartbeatInterval
	}
	return AgentConfig{
		ListenPort:        port,
		HostID:            h.ID,
		SecretKey:         h.SecretKey,
		HeartbeatInterval: fmt.Sprintf("%ds", interval),
	}
}

// RenderAgentConfig produces the agent config.yaml. The host's free-form
// config is appended verbatim.
func RenderAgentConfig(h *hosts.Host) (string, error) {
	out, err := yaml.Marshal(agentConfigFor(h))
	if err != nil {
		return "", fmt.Errorf("render agent config: %w", err)
	}

	var b strings.Builder
	b.WriteString("# HostAgent Configuration\n")
	b.Write(out)
	if strings.TrimSpace(h.Config) != "" {
		b.WriteString("\n# User defined config\n")
		b.WriteString(h.Config)
		if !strings.HasSuffix(h.Config, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

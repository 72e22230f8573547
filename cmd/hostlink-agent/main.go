package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/easy-station/hostlink/internal/agent"
)

var AppVersion string

func main() {
	InitConfig()

	version := AppVersion
	if version == "" {
		version = "dev"
	}
	slog.Info("Hostlink Agent", "version", version, "host_id", config.Agent.HostID)

	a := agent.New(config.Agent, version)
	if config.Agent.LogFile != "" {
		if err := a.OpenLogFile(config.Agent.LogFile); err != nil {
			slog.Error("Failed to open log file", "path", config.Agent.LogFile, "error", err)
			os.Exit(1)
		}
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close agent", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		slog.Error("Agent stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Agent stopped")
}

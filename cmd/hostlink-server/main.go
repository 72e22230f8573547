package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	internalhttp "github.com/easy-station/hostlink/internal/api/http"
	"github.com/easy-station/hostlink/internal/auth"
	"github.com/easy-station/hostlink/internal/commands"
	"github.com/easy-station/hostlink/internal/console"
	"github.com/easy-station/hostlink/internal/db"
	"github.com/easy-station/hostlink/internal/grpc/health"
	"github.com/easy-station/hostlink/internal/hosts"
	"github.com/easy-station/hostlink/internal/installguide"
	"github.com/easy-station/hostlink/internal/supervisor"
	"github.com/easy-station/hostlink/internal/templates"
	"github.com/easy-station/hostlink/internal/ticket"
	"github.com/easy-station/hostlink/internal/tlsutil"
	"github.com/easy-station/hostlink/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Hostlink Server", "version", AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(config.DB); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	pool, err := db.InitDB(ctx, config.DB)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	hostStore := hosts.NewService(pool)
	templateStore := templates.NewService(pool)
	userStore := users.NewService(pool)
	authService := auth.NewService(userStore, config.JWT)

	agentTLS, err := tlsutil.ClientConfig(config.Supervisor.TLS.CAFile, config.Supervisor.TLS.InsecureSkipVerify)
	if err != nil {
		slog.Error("Failed to load agent TLS config", "error", err)
		os.Exit(1)
	}

	bridge := console.NewBridge(config.Console.LogBufferSize)
	sup := supervisor.New(supervisor.Config{
		ConnectTimeout:         config.Supervisor.ConnectTimeout,
		HeartbeatCheckInterval: config.Supervisor.HeartbeatCheckInterval,
		ReconnectInterval:      config.Supervisor.ReconnectInterval,
		ReconnectConcurrency:   config.Supervisor.ReconnectConcurrency,
		TLS:                    agentTLS,
	}, hostStore, bridge)
	bridge.SetLink(sup)

	var grpcCreds credentials.TransportCredentials
	if config.Grpc.TLS.Enabled {
		clientAuth, err := tlsutil.ParseClientAuthType(config.Grpc.TLS.ClientAuth)
		if err != nil {
			slog.Error("Invalid gRPC client auth", "error", err)
			os.Exit(1)
		}
		grpcCreds, err = tlsutil.LoadServerCredentials(config.Grpc.TLS.CertFile, config.Grpc.TLS.KeyFile, config.Grpc.TLS.CAFile, clientAuth)
		if err != nil {
			slog.Error("Failed to load gRPC TLS credentials", "error", err)
			os.Exit(1)
		}
	}
	grpcSrv := health.NewServer(config.Grpc.Port, grpcCreds)
	sup.AddObserver(grpcSrv.Observe)

	known, err := sup.Load(ctx)
	if err != nil {
		slog.Error("Failed to load hosts", "error", err)
		os.Exit(1)
	}
	grpcSrv.Seed(known, sup.Status)

	sup.Start(ctx)
	go func() {
		if err := sup.ReconnectAll(ctx); err != nil {
			slog.Warn("Startup reconnect incomplete", "error", err)
		}
	}()

	tickets := ticket.NewStore(config.Console.TicketTTL)
	cleanupInterval := config.Console.TicketCleanup
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	go tickets.StartCleanup(ctx, cleanupInterval)

	dispatcher := commands.NewDispatcher(hostStore, templateStore, sup, bridge)
	guides := installguide.NewService(config.InstallGuide, hostStore, templateStore,
		installguide.NewArtifactFetcher(config.InstallGuide.ArtifactDir))

	services := &internalhttp.Services{
		Version:     AppVersion,
		JWTSecret:   config.JWT.Secret,
		AdminAPIKey: config.Http.AdminAPIKey,
		Auth:        authService,
		Users:       userStore,
		Hosts:       hostStore,
		Supervisor:  sup,
		Bridge:      bridge,
		Tickets:     tickets,
		Guides:      guides,
		Commands:    dispatcher,
		Templates:   templateStore,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 2)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		if err := grpcSrv.Start(); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")
	cancel()

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
			slog.Error("gRPC server shutdown error", "error", err)
		}
	}()

	wg.Wait()
	sup.Stop()
	slog.Info("Shutdown complete")
}

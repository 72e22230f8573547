package http

import (
	"github.com/easy-station/hostlink/internal/api/http/handler"
	"github.com/easy-station/hostlink/internal/api/http/middleware"
	"github.com/easy-station/hostlink/internal/console"
	"github.com/easy-station/hostlink/internal/metrics"
	"github.com/easy-station/hostlink/internal/ticket"
	"github.com/easy-station/hostlink/internal/users"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Version     string
	JWTSecret   string
	AdminAPIKey string

	Auth       handler.Authenticator
	Users      handler.UserDirectory
	Hosts      handler.HostStore
	Supervisor handler.HostSupervisor
	Bridge     *console.Bridge
	Tickets    *ticket.Store
	Guides     handler.InstallGuideProvider
	Commands   handler.CommandRunner
	Templates  handler.TemplateStore
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Version)
	engine.GET("/health", healthHandler.Check)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	authHandler := handler.NewAuthHandler(srvs.Auth, srvs.Users)
	engine.POST("/auth/login", authHandler.Login)

	// The console socket authenticates with a one-time ticket, not a JWT.
	consoleHandler := handler.NewConsoleHandler(srvs.Bridge, srvs.Tickets)
	engine.GET("/ws/console/:hostId", consoleHandler.Serve)

	api := engine.Group("/", middleware.JWTAuth(srvs.JWTSecret, srvs.AdminAPIKey))

	userGroup := api.Group("/users", middleware.RequireRole(users.RoleAdmin))
	userGroup.GET("", authHandler.ListUsers)
	userGroup.POST("", authHandler.Register)
	userGroup.DELETE("/:id", authHandler.DeleteUser)

	hostsHandler := handler.NewHostsHandler(srvs.Hosts, srvs.Supervisor, srvs.Bridge, srvs.Tickets)
	guideHandler := handler.NewInstallGuideHandler(srvs.Guides)
	commandsHandler := handler.NewCommandsHandler(srvs.Commands, srvs.Templates)

	infra := api.Group("/infra/hosts")
	infra.GET("", hostsHandler.ListHosts)
	infra.POST("", hostsHandler.CreateHost)
	infra.GET("/:id", hostsHandler.GetHost)
	infra.PUT("/:id", hostsHandler.UpdateHost)
	infra.DELETE("/:id", hostsHandler.DeleteHost)
	infra.POST("/:id/connect", hostsHandler.Connect)
	infra.POST("/:id/maintenance", hostsHandler.EnterMaintenance)
	infra.DELETE("/:id/maintenance", hostsHandler.ExitMaintenance)
	infra.POST("/:id/console-ticket", hostsHandler.IssueConsoleTicket)
	infra.GET("/:id/install-guide", guideHandler.Guide)
	infra.GET("/:id/config", guideHandler.AgentConfig)
	infra.GET("/:id/package", guideHandler.Package)
	infra.GET("/:id/commands", commandsHandler.ListCommands)
	infra.POST("/:id/commands/:name/execute", commandsHandler.ExecuteCommand)

	agent := api.Group("/agent")
	agent.GET("/templates", commandsHandler.ListTemplates)
	agent.POST("/templates", middleware.RequireRole(users.RoleAdmin), commandsHandler.CreateTemplate)
	agent.POST("/sources", middleware.RequireRole(users.RoleAdmin), commandsHandler.CreateSource)
}

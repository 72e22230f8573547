package handler

import (
	"context"
	"net/http"

	"github.com/easy-station/hostlink/internal/api/http/dto"
	"github.com/easy-station/hostlink/internal/templates"
	"github.com/gin-gonic/gin"
)

type CommandRunner interface {
	ResolveForHost(ctx context.Context, hostID string) ([]templates.Command, error)
	Execute(ctx context.Context, hostID, sessionID, name, args string) (string, error)
}

type TemplateStore interface {
	List(ctx context.Context) ([]templates.Template, error)
	CreateTemplate(ctx context.Context, p templates.CreateTemplateParams) (*templates.Template, error)
	CreateSource(ctx context.Context, p templates.CreateSourceParams) (*templates.Source, error)
}

type CommandsHandler struct {
	runner    CommandRunner
	templates TemplateStore
}

func NewCommandsHandler(runner CommandRunner, store TemplateStore) *CommandsHandler {
	return &CommandsHandler{runner: runner, templates: store}
}

// ListCommands resolves the command set for the host OS.
// GET /infra/hosts/:id/commands
func (h *CommandsHandler) ListCommands(c *gin.Context) {
	id := c.Param("id")
	cmds, err := h.runner.ResolveForHost(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "resolve commands", "host_id", id)
		return
	}
	c.JSON(http.StatusOK, dto.ListCommandsResponse{HostID: id, Commands: dto.NewCommandResponses(cmds)})
}

// ExecuteCommand injects a template command into a live console session.
// The result arrives on the console, so this answers 202.
// POST /infra/hosts/:id/commands/:name/execute
func (h *CommandsHandler) ExecuteCommand(c *gin.Context) {
	var req dto.ExecuteCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, name := c.Param("id"), c.Param("name")
	requestID, err := h.runner.Execute(c.Request.Context(), id, req.SessionID, name, req.Args)
	if err != nil {
		writeError(c, err, "execute command", "host_id", id, "command", name)
		return
	}

	c.JSON(http.StatusAccepted, dto.ExecuteCommandResponse{
		RequestID: requestID,
		Command:   name,
		SessionID: req.SessionID,
	})
}

// GET /agent/templates
func (h *CommandsHandler) ListTemplates(c *gin.Context) {
	list, err := h.templates.List(c.Request.Context())
	if err != nil {
		writeError(c, err, "list templates")
		return
	}
	resp := make([]dto.TemplateResponse, len(list))
	for i := range list {
		resp[i] = dto.NewTemplateResponse(&list[i])
	}
	c.JSON(http.StatusOK, dto.ListTemplatesResponse{Templates: resp, Count: len(resp)})
}

// POST /agent/templates
func (h *CommandsHandler) CreateTemplate(c *gin.Context) {
	var req dto.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := templates.CreateTemplateParams{
		Name:     req.Name,
		OSType:   templates.OSType(req.OSType),
		SourceID: req.SourceID,
	}
	for _, cmd := range req.Commands {
		params.Commands = append(params.Commands, templates.CreateCommandParams{
			Name:        cmd.Name,
			Script:      cmd.Script,
			Timeout:     cmd.Timeout,
			DefaultArgs: cmd.DefaultArgs,
		})
	}

	t, err := h.templates.CreateTemplate(c.Request.Context(), params)
	if err != nil {
		writeError(c, err, "create template")
		return
	}
	c.JSON(http.StatusCreated, dto.NewTemplateResponse(t))
}

// POST /agent/sources
func (h *CommandsHandler) CreateSource(c *gin.Context) {
	var req dto.CreateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	src, err := h.templates.CreateSource(c.Request.Context(), templates.CreateSourceParams{
		Name:   req.Name,
		Type:   templates.SourceType(req.Type),
		Config: req.Config,
	})
	if err != nil {
		writeError(c, err, "create source")
		return
	}
	c.JSON(http.StatusCreated, dto.SourceResponse{
		ID:     src.ID,
		Name:   src.Name,
		Type:   string(src.Type),
		Config: src.Config,
	})
}

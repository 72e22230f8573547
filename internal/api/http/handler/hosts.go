package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/easy-station/hostlink/internal/api/http/dto"
	"github.com/easy-station/hostlink/internal/hosts"
	"github.com/easy-station/hostlink/internal/supervisor"
	"github.com/easy-station/hostlink/internal/ticket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type HostStore interface {
	Create(ctx context.Context, p hosts.CreateParams) (*hosts.Host, error)
	Get(ctx context.Context, id string) (*hosts.Host, error)
	List(ctx context.Context, environmentID string) ([]hosts.Host, error)
	Update(ctx context.Context, id string, p hosts.UpdateParams) (*hosts.Host, error)
	Delete(ctx context.Context, id string) error
}

// HostSupervisor is the connectivity side of a host: live status,
// connect and maintenance.
type HostSupervisor interface {
	Status(hostID string) hosts.Status
	Track(h *hosts.Host)
	Forget(hostID string)
	Connect(ctx context.Context, hostID string) error
	EnterMaintenance(ctx context.Context, hostID string) error
	ExitMaintenance(ctx context.Context, hostID string) error
}

type ConsoleHub interface {
	ViewerCount(hostID string) int
	Forget(hostID string)
}

type TicketIssuer interface {
	Issue(hostID, userID string) (*ticket.Ticket, error)
	Revoke(hostID string) int
}

type HostsHandler struct {
	store      HostStore
	supervisor HostSupervisor
	console    ConsoleHub
	tickets    TicketIssuer
}

func NewHostsHandler(store HostStore, sup HostSupervisor, console ConsoleHub, tickets TicketIssuer) *HostsHandler {
	return &HostsHandler{
		store:      store,
		supervisor: sup,
		console:    console,
		tickets:    tickets,
	}
}

func (h *HostsHandler) response(host *hosts.Host) dto.HostResponse {
	return dto.NewHostResponse(host, h.supervisor.Status(host.ID), h.console.ViewerCount(host.ID))
}

// ListHosts returns all hosts, optionally filtered by environment.
// GET /infra/hosts?environmentId=
func (h *HostsHandler) ListHosts(c *gin.Context) {
	list, err := h.store.List(c.Request.Context(), c.Query("environmentId"))
	if err != nil {
		writeError(c, err, "list hosts")
		return
	}

	resp := make([]dto.HostResponse, len(list))
	for i := range list {
		resp[i] = h.response(&list[i])
	}
	c.JSON(http.StatusOK, dto.ListHostsResponse{Hosts: resp, Count: len(resp)})
}

// POST /infra/hosts
func (h *HostsHandler) CreateHost(c *gin.Context) {
	var req dto.CreateHostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	host, err := h.store.Create(c.Request.Context(), hosts.CreateParams{
		Name:              req.Name,
		Hostname:          req.Hostname,
		OS:                req.OS,
		EnvironmentID:     req.EnvironmentID,
		GatewayURL:        req.GatewayURL,
		Description:       req.Description,
		Config:            req.Config,
		HeartbeatInterval: req.HeartbeatInterval,
		ListenPort:        req.ListenPort,
	})
	if err != nil {
		writeError(c, err, "create host")
		return
	}
	h.supervisor.Track(host)

	c.JSON(http.StatusCreated, h.response(host))
}

// GET /infra/hosts/:id
func (h *HostsHandler) GetHost(c *gin.Context) {
	host, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "get host", "host_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, h.response(host))
}

// PUT /infra/hosts/:id
func (h *HostsHandler) UpdateHost(c *gin.Context) {
	var req dto.UpdateHostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	host, err := h.store.Update(c.Request.Context(), c.Param("id"), hosts.UpdateParams{
		Name:              req.Name,
		Hostname:          req.Hostname,
		OS:                req.OS,
		EnvironmentID:     req.EnvironmentID,
		GatewayURL:        req.GatewayURL,
		Description:       req.Description,
		Config:            req.Config,
		HeartbeatInterval: req.HeartbeatInterval,
		ListenPort:        req.ListenPort,
	})
	if err != nil {
		writeError(c, err, "update host", "host_id", c.Param("id"))
		return
	}
	h.supervisor.Track(host)

	c.JSON(http.StatusOK, h.response(host))
}

// DeleteHost removes the record, closes the agent link and disconnects
// every viewer.
// DELETE /infra/hosts/:id
func (h *HostsHandler) DeleteHost(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err, "delete host", "host_id", id)
		return
	}

	h.supervisor.Forget(id)
	h.console.Forget(id)
	revoked := h.tickets.Revoke(id)
	slog.Info("Host removed", "host_id", id, "revoked_tickets", revoked)

	c.Status(http.StatusNoContent)
}

// Connect dials the host's gateway. Failures answer 502 with the reason.
// POST /infra/hosts/:id/connect
func (h *HostsHandler) Connect(c *gin.Context) {
	id := c.Param("id")
	if err := h.supervisor.Connect(c.Request.Context(), id); err != nil {
		var cf *supervisor.ConnectFailed
		if errors.As(err, &cf) {
			slog.Warn("Connect failed", "host_id", id, "reason", cf.Reason, "error", cf.Err)
			c.JSON(http.StatusBadGateway, dto.ConnectFailedResponse{Error: err.Error(), Reason: cf.Reason})
			return
		}
		writeError(c, err, "connect host", "host_id", id)
		return
	}

	c.JSON(http.StatusOK, dto.ConnectResponse{Status: string(h.supervisor.Status(id))})
}

// POST /infra/hosts/:id/maintenance
func (h *HostsHandler) EnterMaintenance(c *gin.Context) {
	id := c.Param("id")
	if err := h.supervisor.EnterMaintenance(c.Request.Context(), id); err != nil {
		writeError(c, err, "enter maintenance", "host_id", id)
		return
	}
	c.JSON(http.StatusOK, dto.ConnectResponse{Status: string(h.supervisor.Status(id))})
}

// DELETE /infra/hosts/:id/maintenance
func (h *HostsHandler) ExitMaintenance(c *gin.Context) {
	id := c.Param("id")
	if err := h.supervisor.ExitMaintenance(c.Request.Context(), id); err != nil {
		writeError(c, err, "exit maintenance", "host_id", id)
		return
	}
	c.JSON(http.StatusOK, dto.ConnectResponse{Status: string(h.supervisor.Status(id))})
}

// IssueConsoleTicket hands out a one-time ticket for the console WebSocket.
// POST /infra/hosts/:id/console-ticket
func (h *HostsHandler) IssueConsoleTicket(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.Get(c.Request.Context(), id); err != nil {
		writeError(c, err, "issue console ticket", "host_id", id)
		return
	}

	t, err := h.tickets.Issue(id, c.GetString("user_id"))
	if err != nil {
		writeError(c, err, "issue console ticket", "host_id", id)
		return
	}

	// callers address command execution to the console by this id
	sessionID := uuid.NewString()
	c.JSON(http.StatusCreated, dto.ConsoleTicketResponse{
		Ticket:    t.Key,
		HostID:    id,
		SessionID: sessionID,
		ExpiresAt: t.ExpiresAt,
		URL:       "/ws/console/" + id + "?ticket=" + t.Key + "&session=" + sessionID,
	})
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/easy-station/hostlink/internal/console"
	"github.com/easy-station/hostlink/internal/ticket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionHeader carries the console session id on the upgrade response.
const SessionHeader = "X-Console-Session"

type TicketRedeemer interface {
	Redeem(key, hostID string) (*ticket.Ticket, error)
}

type ConsoleHandler struct {
	bridge   *console.Bridge
	tickets  TicketRedeemer
	upgrader websocket.Upgrader
}

func NewConsoleHandler(bridge *console.Bridge, tickets TicketRedeemer) *ConsoleHandler {
	return &ConsoleHandler{
		bridge:  bridge,
		tickets: tickets,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers cannot send auth headers here; the one-time ticket
			// authorises the socket instead of the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades a browser terminal and attaches it to the host console.
// GET /ws/console/:hostId?ticket=..&session=..
func (h *ConsoleHandler) Serve(c *gin.Context) {
	hostID := c.Param("hostId")

	sessionID := c.Query("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if _, err := uuid.Parse(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session must be a UUID"})
		return
	}

	t, err := h.tickets.Redeem(c.Query("ticket"), hostID)
	if err != nil {
		code := http.StatusUnauthorized
		if errors.Is(err, ticket.ErrTicketWrongHost) {
			code = http.StatusForbidden
		}
		slog.Warn("Console ticket rejected", "host_id", hostID, "client_ip", c.ClientIP(), "error", err)
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, http.Header{SessionHeader: {sessionID}})
	if err != nil {
		slog.Warn("Console upgrade failed", "host_id", hostID, "error", err)
		return
	}

	session := console.NewSession(sessionID, hostID, conn, h.bridge)
	if err := h.bridge.Attach(hostID, session); err != nil {
		slog.Info("Console attach refused", "host_id", hostID, "session_id", sessionID, "error", err)
		session.Reject(console.ErrorCode(err), err.Error())
		return
	}

	slog.Info("Console session attached", "host_id", hostID, "session_id", sessionID, "user_id", t.UserID)
	session.Serve(c.Request.Context())
	slog.Info("Console session ended", "host_id", hostID, "session_id", sessionID)
}

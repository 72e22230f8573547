package dto

import (
	"time"

	"github.com/easy-station/hostlink/internal/hosts"
)

type CreateHostRequest struct {
	Name              string `json:"name" binding:"required,max=255"`
	Hostname          string `json:"hostname"`
	OS                string `json:"os"`
	EnvironmentID     string `json:"environmentId" binding:"omitempty,uuid"`
	GatewayURL        string `json:"gatewayUrl"`
	Description       string `json:"description"`
	Config            string `json:"config"`
	HeartbeatInterval *int   `json:"heartbeatInterval" binding:"omitempty,min=1"`
	ListenPort        *int   `json:"listenPort" binding:"omitempty,min=1,max=65535"`
}

// UpdateHostRequest has no status field. Status changes only through
// connect, heartbeats and maintenance.
type UpdateHostRequest struct {
	Name              *string `json:"name"`
	Hostname          *string `json:"hostname"`
	OS                *string `json:"os"`
	EnvironmentID     *string `json:"environmentId"`
	GatewayURL        *string `json:"gatewayUrl"`
	Description       *string `json:"description"`
	Config            *string `json:"config"`
	HeartbeatInterval *int    `json:"heartbeatInterval" binding:"omitempty,min=1"`
	ListenPort        *int    `json:"listenPort" binding:"omitempty,min=1,max=65535"`
}

type HostResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Hostname          string     `json:"hostname"`
	OS                string     `json:"os"`
	EnvironmentID     string     `json:"environmentId,omitempty"`
	GatewayURL        string     `json:"gatewayUrl"`
	Status            string     `json:"status"`
	HeartbeatInterval int        `json:"heartbeatInterval"`
	ListenPort        int        `json:"listenPort"`
	Config            string     `json:"config"`
	Description       string     `json:"description"`
	CPUInfo           string     `json:"cpuInfo,omitempty"`
	MemInfo           string     `json:"memInfo,omitempty"`
	LastHeartbeat     *time.Time `json:"lastHeartbeat,omitempty"`
	Viewers           int        `json:"viewers"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// NewHostResponse renders a host with its live status. The secret key is
// only handed out through the install guide.
func NewHostResponse(h *hosts.Host, status hosts.Status, viewers int) HostResponse {
	return HostResponse{
		ID:                h.ID,
		Name:              h.Name,
		Hostname:          h.Hostname,
		OS:                h.OS,
		EnvironmentID:     h.EnvironmentID,
		GatewayURL:        h.GatewayURL,
		Status:            string(status),
		HeartbeatInterval: h.HeartbeatInterval,
		ListenPort:        h.ListenPort,
		Config:            h.Config,
		Description:       h.Description,
		CPUInfo:           h.CPUInfo,
		MemInfo:           h.MemInfo,
		LastHeartbeat:     h.LastHeartbeat,
		Viewers:           viewers,
		CreatedAt:         h.CreatedAt,
		UpdatedAt:         h.UpdatedAt,
	}
}

type ListHostsResponse struct {
	Hosts []HostResponse `json:"hosts"`
	Count int            `json:"count"`
}

type ConnectResponse struct {
	Status string `json:"status"`
}

type ConnectFailedResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type ConsoleTicketResponse struct {
	Ticket    string    `json:"ticket"`
	HostID    string    `json:"hostId"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	URL       string    `json:"url"`
}

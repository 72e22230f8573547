package hosts

import (
	"time"
)

type Status string

const (
	StatusUnconnected Status = "UNCONNECTED"
	StatusOffline     Status = "OFFLINE"
	StatusOnline      Status = "ONLINE"
	StatusException   Status = "EXCEPTION"
	StatusMaintenance Status = "MAINTENANCE"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUnconnected, StatusOffline, StatusOnline, StatusException, StatusMaintenance:
		return true
	}
	return false
}

const (
	DefaultHeartbeatInterval = 30
	DefaultListenPort        = 9090
)

type Host struct {
	ID                string
	Name              string
	Hostname          string
	OS                string
	EnvironmentID     string
	GatewayURL        string
	SecretKey         string
	Status            Status
	HeartbeatInterval int
	Config            string
	ListenPort        int
	Description       string
	CPUInfo           string
	MemInfo           string
	LastHeartbeat     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HeartbeatPeriod is the configured interval, falling back to the default
// when the record holds a non-positive value.
func (h *Host) HeartbeatPeriod() time.Duration {
	if h.HeartbeatInterval <= 0 {
		return DefaultHeartbeatInterval * time.Second
	}
	return time.Duration(h.HeartbeatInterval) * time.Second
}

type CreateParams struct {
	Name              string
	Hostname          string
	OS                string
	EnvironmentID     string
	GatewayURL        string
	Description       string
	Config            string
	HeartbeatInterval *int
	ListenPort        *int
}

// UpdateParams carries the operator-editable fields. Status only changes
// through the connection supervisor.
type UpdateParams struct {
	Name              *string
	Hostname          *string
	OS                *string
	EnvironmentID     *string
	GatewayURL        *string
	Description       *string
	Config            *string
	HeartbeatInterval *int
	ListenPort        *int
}

type ConnectionState struct {
	Status        Status
	LastHeartbeat *time.Time
	OS            string
}

package supervisor

import (
	"time"

	"github.com/easy-station/hostlink/internal/hosts"
)

// CanTransition reports whether a host may move from one status to another.
func CanTransition(from, to hosts.Status) bool {
	if to == hosts.StatusMaintenance {
		return true
	}

	switch from {
	case hosts.StatusUnconnected, hosts.StatusOffline, hosts.StatusException:
		return to == hosts.StatusOnline
	case hosts.StatusOnline:
		return to == hosts.StatusOnline || to == hosts.StatusOffline || to == hosts.StatusException
	case hosts.StatusMaintenance:
		return to == hosts.StatusOffline
	}
	return false
}

type hostState struct {
	status        hosts.Status
	interval      time.Duration
	lastSeen      time.Time
	lastHeartbeat *time.Time
	os            string
	link          *agentLink
}

func (st *hostState) liveLink() bool {
	return st.link != nil && !st.link.isClosed()
}

// change is a status or heartbeat update produced under the supervisor
// lock and dispatched after it is released.
type change struct {
	hostID        string
	from          hosts.Status
	to            hosts.Status
	lastHeartbeat *time.Time
	os            string
}

func (c change) transitioned() bool {
	return c.from != c.to
}

func (st *hostState) snapshot(hostID string, from hosts.Status) change {
	var hb *time.Time
	if st.lastHeartbeat != nil {
		t := *st.lastHeartbeat
		hb = &t
	}
	return change{
		hostID:        hostID,
		from:          from,
		to:            st.status,
		lastHeartbeat: hb,
		os:            st.os,
	}
}

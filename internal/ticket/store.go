package ticket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultTTL = 60 * time.Second
	prefix     = "ct_"
)

var (
	ErrTicketNotFound  = errors.New("console ticket not found")
	ErrTicketExpired   = errors.New("console ticket has expired")
	ErrTicketUsed      = errors.New("console ticket has already been used")
	ErrTicketWrongHost = errors.New("console ticket was issued for another host")
)

// Ticket authorises one browser WebSocket to a host console.
type Ticket struct {
	Key       string
	HostID    string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

type Store struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
	ttl     time.Duration
	now     func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		tickets: make(map[string]*Ticket),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *Store) Issue(hostID, userID string) (*Ticket, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate ticket: %w", err)
	}

	now := s.now()
	t := &Ticket{
		Key:       prefix + hex.EncodeToString(b),
		HostID:    hostID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.tickets[t.Key] = t
	s.mu.Unlock()

	slog.Debug("Console ticket issued", "host_id", hostID, "user_id", userID, "expires_at", t.ExpiresAt)
	copied := *t
	return &copied, nil
}

// Redeem validates a ticket for hostID and consumes it.
func (s *Store) Redeem(key, hostID string) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[key]
	if !ok {
		return nil, ErrTicketNotFound
	}
	if t.Used {
		return nil, ErrTicketUsed
	}
	if s.now().After(t.ExpiresAt) {
		return nil, ErrTicketExpired
	}
	if t.HostID != hostID {
		return nil, ErrTicketWrongHost
	}

	t.Used = true
	copied := *t
	return &copied, nil
}

// Revoke drops every outstanding ticket for a host.
func (s *Store) Revoke(hostID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, t := range s.tickets {
		if t.HostID == hostID {
			delete(s.tickets, key)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

func (s *Store) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, t := range s.tickets {
		if t.Used || now.After(t.ExpiresAt) {
			delete(s.tickets, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Cleaned up console tickets", "removed", removed)
	}
}

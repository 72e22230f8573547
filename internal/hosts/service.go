package hosts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	ErrHostNotFound  = errors.New("host not found")
	ErrInvalidHost   = errors.New("invalid host")
	ErrInvalidStatus = errors.New("invalid host status")
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Service struct {
	db DBTX
}

func NewService(db DBTX) *Service {
	return &Service{db: db}
}

const hostColumns = `id, name, hostname, os, environment_id, gateway_url, secret_key, status,
	heartbeat_interval, config, listen_port, description, cpu_info, mem_info,
	last_heartbeat, created_at, updated_at`

func (s *Service) Create(ctx context.Context, p CreateParams) (*Host, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidHost)
	}

	envID, err := optionalUUID(p.EnvironmentID)
	if err != nil {
		return nil, err
	}

	heartbeat := DefaultHeartbeatInterval
	if p.HeartbeatInterval != nil {
		heartbeat = *p.HeartbeatInterval
	}
	port := DefaultListenPort
	if p.ListenPort != nil {
		port = *p.ListenPort
	}
	if err := validateNumbers(heartbeat, port); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, `INSERT INTO hosts
		(name, hostname, os, environment_id, gateway_url, secret_key, status,
		 heartbeat_interval, config, listen_port, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+hostColumns,
		p.Name, p.Hostname, p.OS, envID, p.GatewayURL, uuid.NewString(), string(StatusUnconnected),
		heartbeat, p.Config, port, p.Description)

	host, err := scanHost(row)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}

	slog.Info("Host created", "host_id", host.ID, "name", host.Name)
	return host, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Host, error) {
	pgID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, `SELECT `+hostColumns+` FROM hosts WHERE id = $1`, pgID)
	host, err := scanHost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHostNotFound
		}
		return nil, fmt.Errorf("get host: %w", err)
	}
	return host, nil
}

// List returns all hosts, or the hosts of one environment when
// environmentID is non-empty.
func (s *Service) List(ctx context.Context, environmentID string) ([]Host, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if environmentID == "" {
		rows, err = s.db.Query(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY created_at`)
	} else {
		envID, perr := optionalUUID(environmentID)
		if perr != nil {
			return nil, perr
		}
		rows, err = s.db.Query(ctx, `SELECT `+hostColumns+` FROM hosts WHERE environment_id = $1 ORDER BY created_at`, envID)
	}
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var result []Host
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		result = append(result, *host)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	return result, nil
}

func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*Host, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidHost)
		}
		current.Name = *p.Name
	}
	if p.Hostname != nil {
		current.Hostname = *p.Hostname
	}
	if p.OS != nil {
		current.OS = *p.OS
	}
	if p.EnvironmentID != nil {
		current.EnvironmentID = *p.EnvironmentID
	}
	if p.GatewayURL != nil {
		current.GatewayURL = *p.GatewayURL
	}
	if p.Description != nil {
		current.Description = *p.Description
	}
	if p.Config != nil {
		current.Config = *p.Config
	}
	if p.HeartbeatInterval != nil {
		current.HeartbeatInterval = *p.HeartbeatInterval
	}
	if p.ListenPort != nil {
		current.ListenPort = *p.ListenPort
	}
	if err := validateNumbers(current.HeartbeatInterval, current.ListenPort); err != nil {
		return nil, err
	}

	envID, err := optionalUUID(current.EnvironmentID)
	if err != nil {
		return nil, err
	}
	pgID, _ := parseID(current.ID)

	row := s.db.QueryRow(ctx, `UPDATE hosts SET
		name = $2, hostname = $3, os = $4, environment_id = $5, gateway_url = $6,
		description = $7, config = $8, heartbeat_interval = $9, listen_port = $10,
		updated_at = NOW()
		WHERE id = $1
		RETURNING `+hostColumns,
		pgID, current.Name, current.Hostname, current.OS, envID, current.GatewayURL,
		current.Description, current.Config, current.HeartbeatInterval, current.ListenPort)

	host, err := scanHost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHostNotFound
		}
		return nil, fmt.Errorf("update host: %w", err)
	}
	return host, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	pgID, err := parseID(id)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM hosts WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("delete host: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrHostNotFound
	}

	slog.Info("Host deleted", "host_id", id)
	return nil
}

// UpdateConnectionState persists what the supervisor observed about a host.
// An empty OS leaves the stored value untouched.
func (s *Service) UpdateConnectionState(ctx context.Context, id string, state ConnectionState) error {
	if !state.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, state.Status)
	}
	pgID, err := parseID(id)
	if err != nil {
		return err
	}

	var lastHeartbeat pgtype.Timestamptz
	if state.LastHeartbeat != nil {
		lastHeartbeat = pgtype.Timestamptz{Time: *state.LastHeartbeat, Valid: true}
	}

	tag, err := s.db.Exec(ctx, `UPDATE hosts SET
		status = $2,
		last_heartbeat = COALESCE($3, last_heartbeat),
		os = CASE WHEN $4 = '' THEN os ELSE $4 END,
		updated_at = NOW()
		WHERE id = $1`,
		pgID, string(state.Status), lastHeartbeat, state.OS)
	if err != nil {
		return fmt.Errorf("update connection state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrHostNotFound
	}
	return nil
}

func scanHost(row pgx.Row) (*Host, error) {
	var (
		id, envID     pgtype.UUID
		status        string
		lastHeartbeat pgtype.Timestamptz
		createdAt     pgtype.Timestamptz
		updatedAt     pgtype.Timestamptz
		h             Host
	)

	err := row.Scan(&id, &h.Name, &h.Hostname, &h.OS, &envID, &h.GatewayURL, &h.SecretKey, &status,
		&h.HeartbeatInterval, &h.Config, &h.ListenPort, &h.Description, &h.CPUInfo, &h.MemInfo,
		&lastHeartbeat, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	h.ID = uuidToString(id.Bytes)
	if envID.Valid {
		h.EnvironmentID = uuidToString(envID.Bytes)
	}
	h.Status = Status(status)
	if lastHeartbeat.Valid {
		t := lastHeartbeat.Time
		h.LastHeartbeat = &t
	}
	h.CreatedAt = createdAt.Time
	h.UpdatedAt = updatedAt.Time
	return &h, nil
}

func parseID(id string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, ErrHostNotFound
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

func optionalUUID(id string) (pgtype.UUID, error) {
	if id == "" {
		return pgtype.UUID{}, nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("%w: environment id %q", ErrInvalidHost, id)
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

func validateNumbers(heartbeatInterval, listenPort int) error {
	if heartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidHost)
	}
	if listenPort <= 0 || listenPort > 65535 {
		return fmt.Errorf("%w: listen port out of range", ErrInvalidHost)
	}
	return nil
}

func uuidToString(id [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		id[0:4], id[4:6], id[6:8], id[8:10], id[10:16])
}

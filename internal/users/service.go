package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameExists = errors.New("username already exists")
	ErrInvalidRole    = errors.New("invalid role")
)

type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type UserInfo struct {
	ID        string
	Username  string
	Role      string
	CreatedAt time.Time
}

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

func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleOperator
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
		u         User
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1`,
		username).Scan(&id, &u.Username, &u.PasswordHash, &u.Role, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.ID = uuidToString(id.Bytes)
	u.CreatedAt = createdAt.Time
	return &u, nil
}

// CreateUser stores a user with an already hashed password.
func (s *Service) CreateUser(ctx context.Context, username, passwordHash, role string) (*UserInfo, error) {
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err := s.db.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, role) VALUES ($1, $2, $3) RETURNING id, created_at`,
		strings.TrimSpace(username), passwordHash, role).Scan(&id, &createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUsernameExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &UserInfo{
		ID:        uuidToString(id.Bytes),
		Username:  strings.TrimSpace(username),
		Role:      role,
		CreatedAt: createdAt.Time,
	}, nil
}

func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return ErrUserNotFound
	}

	pgID := pgtype.UUID{Bytes: parsed, Valid: true}
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]UserInfo, int64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, username, role, created_at FROM users ORDER BY created_at LIMIT $1 OFFSET $2`,
		int32(limit), int32(offset))
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var result []UserInfo
	for rows.Next() {
		var (
			id        pgtype.UUID
			createdAt pgtype.Timestamptz
			u         UserInfo
		)
		if err := rows.Scan(&id, &u.Username, &u.Role, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		u.ID = uuidToString(id.Bytes)
		u.CreatedAt = createdAt.Time
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return result, total, nil
}

func uuidToString(id [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		id[0:4], id[4:6], id[6:8], id[8:10], id[10:16])
}

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/easy-station/hostlink/internal/users"
)

var (
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type RegisterResult struct {
	ID       string
	Username string
	Role     string
}

type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*users.User, error)
	CreateUser(ctx context.Context, username, passwordHash, role string) (*users.UserInfo, error)
}

type Service struct {
	users  UserStore
	config Config
}

func NewService(store UserStore, config Config) *Service {
	return &Service{
		users:  store,
		config: config,
	}
}

func (s *Service) Register(ctx context.Context, username, password, role string) (RegisterResult, error) {
	if role == "" {
		role = users.RoleOperator
	}

	hash, err := users.HashPassword(password)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, username, hash, role)
	if err != nil {
		if errors.Is(err, users.ErrUsernameExists) {
			return RegisterResult{}, ErrUsernameExists
		}
		return RegisterResult{}, fmt.Errorf("create user: %w", err)
	}

	return RegisterResult{
		ID:       user.ID,
		Username: user.Username,
		Role:     user.Role,
	}, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("query user: %w", err)
	}

	if !users.CheckPassword(password, user.PasswordHash) {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.config, user.ID, user.Username, user.Role)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

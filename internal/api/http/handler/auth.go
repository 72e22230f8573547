package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/easy-station/hostlink/internal/api/http/dto"
	"github.com/easy-station/hostlink/internal/auth"
	"github.com/easy-station/hostlink/internal/users"
	"github.com/gin-gonic/gin"
)

type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password, role string) (auth.RegisterResult, error)
}

type UserDirectory interface {
	ListUsers(ctx context.Context, limit, offset int) ([]users.UserInfo, int64, error)
	DeleteUser(ctx context.Context, userID string) error
}

type AuthHandler struct {
	auth  Authenticator
	users UserDirectory
}

func NewAuthHandler(a Authenticator, u UserDirectory) *AuthHandler {
	return &AuthHandler{auth: a, users: u}
}

// Login exchanges credentials for a JWT.
// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		slog.Error("Failed to log in", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{Token: token})
}

// Register creates an operator account. Admin only.
// POST /users
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.auth.Register(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrUsernameExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
			return
		}
		slog.Error("Failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, dto.RegisterResponse{
		ID:       res.ID,
		Username: res.Username,
		Role:     res.Role,
	})
}

// GET /users
func (h *AuthHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	list, total, err := h.users.ListUsers(c.Request.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		slog.Error("Failed to list users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	resp := make([]dto.UserResponse, len(list))
	for i, u := range list {
		resp[i] = dto.UserResponse{
			ID:        u.ID,
			Username:  u.Username,
			Role:      u.Role,
			CreatedAt: u.CreatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, dto.ListUsersResponse{
		Users:    resp,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// DELETE /users/:id
func (h *AuthHandler) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	if id == c.GetString("user_id") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete the current user"})
		return
	}

	if err := h.users.DeleteUser(c.Request.Context(), id); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		slog.Error("Failed to delete user", "error", err, "user_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.Status(http.StatusNoContent)
}

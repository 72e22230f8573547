package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/easy-station/hostlink/internal/api/http/dto"
	"github.com/easy-station/hostlink/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T, env *Env) {
	t.Run("seeded admin", func(t *testing.T) {
		token := login(t, env.Router, adminUsername, adminPassword)

		claims, err := auth.ValidateToken(env.JWTSecret, token)
		require.NoError(t, err)
		assert.Equal(t, adminUsername, claims.Username)
		assert.Equal(t, "admin", claims.Role)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodPost, "/auth/login", "",
			dto.LoginRequest{Username: adminUsername, Password: "wrongpassword"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodPost, "/auth/login", "",
			dto.LoginRequest{Username: "nobody", Password: "password123"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestUsers(t *testing.T, env *Env) {
	adminToken := login(t, env.Router, adminUsername, adminPassword)

	rr := doJSON(env.Router, http.MethodPost, "/users", adminToken,
		dto.RegisterRequest{Username: "operator1", Password: "password123"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created dto.RegisterResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "operator", created.Role)

	t.Run("duplicate username", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodPost, "/users", adminToken,
			dto.RegisterRequest{Username: "operator1", Password: "password123"})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("operator cannot manage users", func(t *testing.T) {
		opToken := login(t, env.Router, "operator1", "password123")
		rr := doJSON(env.Router, http.MethodGet, "/users", opToken, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("list", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodGet, "/users?page=1&pageSize=10", adminToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var list dto.ListUsersResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
		assert.GreaterOrEqual(t, list.Total, int64(2))
	})

	t.Run("delete", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodDelete, "/users/"+created.ID, adminToken, nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = doJSON(env.Router, http.MethodDelete, "/users/"+created.ID, adminToken, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("no token", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodGet, "/users", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

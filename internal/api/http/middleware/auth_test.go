package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/easy-station/hostlink/internal/auth"
	"github.com/easy-station/hostlink/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "middleware-secret"

func setupAuthRouter(apiKey string, roles ...string) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger())
	group := r.Group("/", JWTAuth(testSecret, apiKey))
	if len(roles) > 0 {
		group.Use(RequireRole(roles...))
	}
	group.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "role": c.GetString("role")})
	})
	return r
}

func doRequest(r *gin.Engine, header, value string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", "/whoami", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := setupAuthRouter("")
	token, err := auth.GenerateToken(auth.Config{Secret: testSecret, Expiration: time.Hour}, "u-1", "alice", users.RoleOperator)
	require.NoError(t, err)

	w := doRequest(r, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"u-1"`)

	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "Authorization", token).Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "Authorization", "Bearer garbage").Code)
}

func TestJWTAuth_APIKey(t *testing.T) {
	r := setupAuthRouter("admin-key")

	w := doRequest(r, "X-API-Key", "admin-key")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"admin"`)

	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "X-API-Key", "wrong").Code)
}

func TestJWTAuth_APIKeyNotConfigured(t *testing.T) {
	r := setupAuthRouter("")
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "X-API-Key", "anything").Code)
}

func TestRequireRole(t *testing.T) {
	r := setupAuthRouter("", users.RoleAdmin)
	cfg := auth.Config{Secret: testSecret, Expiration: time.Hour}

	operator, err := auth.GenerateToken(cfg, "u-1", "alice", users.RoleOperator)
	require.NoError(t, err)
	admin, err := auth.GenerateToken(cfg, "u-2", "root", users.RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, doRequest(r, "Authorization", "Bearer "+operator).Code)
	assert.Equal(t, http.StatusOK, doRequest(r, "Authorization", "Bearer "+admin).Code)
}

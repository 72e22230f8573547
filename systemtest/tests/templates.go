package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/easy-station/hostlink/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTemplates registers the LINUX template the host tests resolve against.
func TestTemplates(t *testing.T, env *Env) {
	token := login(t, env.Router, adminUsername, adminPassword)

	rr := doJSON(env.Router, http.MethodPost, "/agent/sources", token, dto.CreateSourceRequest{
		Name:   "local-linux",
		Type:   "LOCAL",
		Config: `{"filePath":"linux/host-agent"}`,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var src dto.SourceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &src))

	rr = doJSON(env.Router, http.MethodPost, "/agent/templates", token, dto.CreateTemplateRequest{
		Name:     "linux-default",
		OSType:   "LINUX",
		SourceID: src.ID,
		Commands: []dto.CommandRequest{
			{Name: "greet", Script: "echo", DefaultArgs: "hello-from-template"},
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var tmpl dto.TemplateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tmpl))
	assert.Equal(t, "LOCAL", tmpl.SourceType)
	require.Len(t, tmpl.Commands, 1)
	assert.Equal(t, 60, tmpl.Commands[0].Timeout)

	t.Run("operator cannot create templates", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodPost, "/users", token,
			dto.RegisterRequest{Username: "tmpl-operator", Password: "password123"})
		require.Equal(t, http.StatusCreated, rr.Code)
		opToken := login(t, env.Router, "tmpl-operator", "password123")

		rr = doJSON(env.Router, http.MethodPost, "/agent/sources", opToken,
			dto.CreateSourceRequest{Name: "x", Type: "LOCAL", Config: `{"filePath":"x"}`})
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = doJSON(env.Router, http.MethodGet, "/agent/templates", opToken, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

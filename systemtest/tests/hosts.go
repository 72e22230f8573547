package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/easy-station/hostlink/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createHost(t *testing.T, env *Env, token string, req dto.CreateHostRequest) dto.HostResponse {
	t.Helper()
	rr := doJSON(env.Router, http.MethodPost, "/infra/hosts", token, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp dto.HostResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHosts(t *testing.T, env *Env) {
	token := login(t, env.Router, adminUsername, adminPassword)

	created := createHost(t, env, token, dto.CreateHostRequest{Name: "web-1", OS: "LINUX"})
	assert.Equal(t, "web-1", created.Name)
	assert.Equal(t, "UNCONNECTED", created.Status)
	assert.Equal(t, 9090, created.ListenPort)

	t.Run("get", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodGet, "/infra/hosts/"+created.ID, token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, rr.Body.String(), "secret")
	})

	t.Run("update", func(t *testing.T) {
		name := "web-1-renamed"
		rr := doJSON(env.Router, http.MethodPut, "/infra/hosts/"+created.ID, token, dto.UpdateHostRequest{Name: &name})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp dto.HostResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, name, resp.Name)
	})

	t.Run("list", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodGet, "/infra/hosts", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var list dto.ListHostsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
		assert.GreaterOrEqual(t, list.Count, 1)
	})

	t.Run("install guide", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodGet, "/infra/hosts/"+created.ID+"/install-guide", token, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Contains(t, rr.Body.String(), created.ID)
	})

	t.Run("connect without gateway", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodPost, "/infra/hosts/"+created.ID+"/connect", token, nil)
		require.Equal(t, http.StatusBadGateway, rr.Code)

		var resp dto.ConnectFailedResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Reason)
	})

	t.Run("delete", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodDelete, "/infra/hosts/"+created.ID, token, nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = doJSON(env.Router, http.MethodGet, "/infra/hosts/"+created.ID, token, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("unknown host", func(t *testing.T) {
		rr := doJSON(env.Router, http.MethodGet, "/infra/hosts/00000000-0000-0000-0000-000000000000", token, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

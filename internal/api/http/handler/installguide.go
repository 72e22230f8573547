package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/easy-station/hostlink/internal/installguide"
	"github.com/gin-gonic/gin"
)

type InstallGuideProvider interface {
	Guide(ctx context.Context, hostID string) (*installguide.Guide, error)
	AgentConfig(ctx context.Context, hostID string) (string, error)
	Package(ctx context.Context, hostID, sourceID string) (*installguide.Bundle, error)
}

type InstallGuideHandler struct {
	guides InstallGuideProvider
}

func NewInstallGuideHandler(guides InstallGuideProvider) *InstallGuideHandler {
	return &InstallGuideHandler{guides: guides}
}

// GET /infra/hosts/:id/install-guide
func (h *InstallGuideHandler) Guide(c *gin.Context) {
	g, err := h.guides.Guide(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "issue install guide", "host_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, g)
}

// GET /infra/hosts/:id/config
func (h *InstallGuideHandler) AgentConfig(c *gin.Context) {
	cfg, err := h.guides.AgentConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "render agent config", "host_id", c.Param("id"))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="config.yaml"`)
	c.Data(http.StatusOK, "application/x-yaml; charset=utf-8", []byte(cfg))
}

// Package streams the agent archive for the host OS.
// GET /infra/hosts/:id/package?sourceId=
func (h *InstallGuideHandler) Package(c *gin.Context) {
	id := c.Param("id")
	sourceID := c.Query("sourceId")
	if sourceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sourceId is required"})
		return
	}

	bundle, err := h.guides.Package(c.Request.Context(), id, sourceID)
	if err != nil {
		writeError(c, err, "build agent package", "host_id", id, "source_id", sourceID)
		return
	}
	defer bundle.Close()

	c.Header("Content-Type", bundle.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, bundle.FileName))
	c.Status(http.StatusOK)

	// Headers are gone once streaming starts; a failure can only be logged.
	if err := bundle.Write(c.Writer); err != nil {
		slog.Error("Agent package stream failed", "host_id", id, "source_id", sourceID, "error", err)
		_ = c.Error(err)
	}
}

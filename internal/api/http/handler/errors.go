package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/easy-station/hostlink/internal/commands"
	"github.com/easy-station/hostlink/internal/console"
	"github.com/easy-station/hostlink/internal/hosts"
	"github.com/easy-station/hostlink/internal/installguide"
	"github.com/easy-station/hostlink/internal/supervisor"
	"github.com/easy-station/hostlink/internal/templates"
	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP statuses. Unknown errors are 500.
func statusFor(err error) int {
	var cf *supervisor.ConnectFailed
	switch {
	case errors.As(err, &cf):
		return http.StatusBadGateway
	case errors.Is(err, hosts.ErrHostNotFound),
		errors.Is(err, templates.ErrSourceNotFound),
		errors.Is(err, templates.ErrTemplateNotFound),
		errors.Is(err, installguide.ErrNoResource),
		errors.Is(err, installguide.ErrArtifactNotFound),
		errors.Is(err, commands.ErrCommandNotFound):
		return http.StatusNotFound
	case errors.Is(err, hosts.ErrInvalidHost),
		errors.Is(err, templates.ErrInvalidTemplate),
		errors.Is(err, installguide.ErrSourceMismatch):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrInMaintenance),
		errors.Is(err, supervisor.ErrInvalidTransition),
		errors.Is(err, console.ErrHostNotOnline),
		errors.Is(err, console.ErrSessionNotAttached):
		return http.StatusConflict
	case errors.Is(err, commands.ErrNoTemplateForOs),
		errors.Is(err, templates.ErrOSRequired),
		errors.Is(err, templates.ErrUnsupportedOS),
		errors.Is(err, installguide.ErrMissingFileMetadata),
		errors.Is(err, installguide.ErrInvalidSourceConfig),
		errors.Is(err, installguide.ErrSourceNotFetchable):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error, action string, attrs ...any) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Failed to "+action, append(attrs, "error", err)...)
		c.JSON(code, gin.H{"error": "failed to " + action})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

package dto

import (
	"time"

	"github.com/easy-station/hostlink/internal/templates"
)

type CreateSourceRequest struct {
	Name   string `json:"name" binding:"required"`
	Type   string `json:"type" binding:"required,oneof=LOCAL HTTPS GIT MAVEN NEXTCLOUD"`
	Config string `json:"config"`
}

type SourceResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Config string `json:"config"`
}

type CommandRequest struct {
	Name        string `json:"name" binding:"required"`
	Script      string `json:"script" binding:"required"`
	Timeout     int    `json:"timeout" binding:"omitempty,min=1"`
	DefaultArgs string `json:"defaultArgs"`
}

type CreateTemplateRequest struct {
	Name     string           `json:"name" binding:"required"`
	OSType   string           `json:"osType" binding:"required,oneof=LINUX LINUX_DOCKER WINDOWS MACOS ALL"`
	SourceID string           `json:"sourceId" binding:"omitempty,uuid"`
	Commands []CommandRequest `json:"commands" binding:"dive"`
}

type CommandResponse struct {
	ID          string `json:"id"`
	TemplateID  string `json:"templateId"`
	Name        string `json:"name"`
	Script      string `json:"script"`
	Timeout     int    `json:"timeout"`
	DefaultArgs string `json:"defaultArgs"`
}

type TemplateResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	OSType     string            `json:"osType"`
	SourceID   string            `json:"sourceId,omitempty"`
	SourceType string            `json:"sourceType,omitempty"`
	Commands   []CommandResponse `json:"commands"`
	CreatedAt  time.Time         `json:"createdAt"`
}

func NewCommandResponses(cmds []templates.Command) []CommandResponse {
	out := make([]CommandResponse, len(cmds))
	for i, c := range cmds {
		out[i] = CommandResponse{
			ID:          c.ID,
			TemplateID:  c.TemplateID,
			Name:        c.Name,
			Script:      c.Script,
			Timeout:     c.Timeout,
			DefaultArgs: c.DefaultArgs,
		}
	}
	return out
}

func NewTemplateResponse(t *templates.Template) TemplateResponse {
	resp := TemplateResponse{
		ID:         t.ID,
		Name:       t.Name,
		OSType:     string(t.OSType),
		SourceType: string(t.SourceType()),
		Commands:   NewCommandResponses(t.Commands),
		CreatedAt:  t.CreatedAt,
	}
	if t.Source != nil {
		resp.SourceID = t.Source.ID
	}
	return resp
}

type ListTemplatesResponse struct {
	Templates []TemplateResponse `json:"templates"`
	Count     int                `json:"count"`
}

type ListCommandsResponse struct {
	HostID   string            `json:"hostId"`
	Commands []CommandResponse `json:"commands"`
}

type ExecuteCommandRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Args      string `json:"args"`
}

type ExecuteCommandResponse struct {
	RequestID string `json:"requestId"`
	Command   string `json:"command"`
	SessionID string `json:"sessionId"`
}

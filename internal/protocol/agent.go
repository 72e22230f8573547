package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const ProtocolVersion = "2.0"

// Envelope is the frame exchanged with a host agent over its /ws link.
type Envelope struct {
	ProtocolVersion string          `json:"protocolVersion,omitempty"`
	RequestID       string          `json:"requestId,omitempty"`
	Timestamp       string          `json:"timestamp,omitempty"`
	Type            MessageType     `json:"type"`
	Content         json.RawMessage `json:"content,omitempty"`
}

type HeartbeatContent struct {
	AgentID   string    `json:"agentId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	OsType    string    `json:"osType"`
}

type ExecCmdContent struct {
	Command   string `json:"command"`
	TimeoutMs *int64 `json:"timeoutMs,omitempty"`
}

type InputContent struct {
	Content string `json:"content"`
}

type ExecResultContent struct {
	Status        string `json:"status"`
	ExitCode      int    `json:"exitCode"`
	StartedAt     string `json:"startedAt"`
	FinishedAt    string `json:"finishedAt"`
	DurationMs    int64  `json:"durationMs"`
	OutputPreview string `json:"outputPreview,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

func (r ExecResultContent) Summary(requestID string) string {
	return fmt.Sprintf("EXEC_RESULT requestId=%s status=%s exitCode=%d durationMs=%d",
		requestID, r.Status, r.ExitCode, r.DurationMs)
}

func NewEnvelope(t MessageType, content any) (Envelope, error) {
	return NewEnvelopeWithID(uuid.NewString(), t, content)
}

func NewEnvelopeWithID(requestID string, t MessageType, content any) (Envelope, error) {
	env := Envelope{
		ProtocolVersion: ProtocolVersion,
		RequestID:       requestID,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Type:            t,
	}
	if content != nil {
		raw, err := json.Marshal(content)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s content: %w", t, err)
		}
		env.Content = raw
	}
	return env, nil
}

func (e Envelope) DecodeContent(v any) error {
	if len(e.Content) == 0 {
		return fmt.Errorf("%w: %s has no content", ErrMalformedMessage, e.Type)
	}
	if err := json.Unmarshal(e.Content, v); err != nil {
		return fmt.Errorf("%w: %s content: %v", ErrMalformedMessage, e.Type, err)
	}
	return nil
}

// DecodeEnvelope parses an agent frame. Older agents send bare text: the
// literal HEARTBEAT is a heartbeat, anything else is a log line.
func DecodeEnvelope(data []byte) Envelope {
	trimmed := bytes.TrimSpace(data)
	var env Envelope
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Type != "" {
			return env
		}
	}

	if string(trimmed) == string(TypeHeartbeat) {
		return Envelope{Type: TypeHeartbeat}
	}

	line, _ := json.Marshal(string(data))
	return Envelope{Type: TypeLog, Content: line}
}

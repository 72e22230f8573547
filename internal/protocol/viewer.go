package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type MessageType string

const (
	TypeFetchLogs        MessageType = "FETCH_LOGS"
	TypeLogHistory       MessageType = "LOG_HISTORY"
	TypeInput            MessageType = "INPUT"
	TypeExecCmd          MessageType = "EXEC_CMD"
	TypeLog              MessageType = "LOG"
	TypeHeartbeat        MessageType = "HEARTBEAT"
	TypeHostDisconnected MessageType = "HOST_DISCONNECTED"
	TypeError            MessageType = "ERROR"
	TypeExecResult       MessageType = "EXEC_RESULT"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownType      = errors.New("unknown message type")
)

// ViewerMessage is one frame on the console socket between a browser
// terminal and the bridge. The set of implementations is closed.
type ViewerMessage interface {
	Type() MessageType
	payload() any
}

type FetchLogs struct{}

type LogHistory struct {
	Lines []string
}

type Input struct {
	Content string
}

type ExecCmd struct {
	Command string
}

type Log struct {
	Line string
}

type Heartbeat struct{}

type HostDisconnected struct {
	Reason string
}

type Error struct {
	Code    string
	Message string
}

func (FetchLogs) Type() MessageType        { return TypeFetchLogs }
func (LogHistory) Type() MessageType       { return TypeLogHistory }
func (Input) Type() MessageType            { return TypeInput }
func (ExecCmd) Type() MessageType          { return TypeExecCmd }
func (Log) Type() MessageType              { return TypeLog }
func (Heartbeat) Type() MessageType        { return TypeHeartbeat }
func (HostDisconnected) Type() MessageType { return TypeHostDisconnected }
func (Error) Type() MessageType            { return TypeError }

func (FetchLogs) payload() any { return nil }

func (m LogHistory) payload() any {
	if m.Lines == nil {
		return []string{}
	}
	return m.Lines
}

func (m Input) payload() any   { return inputContent{Content: m.Content} }
func (m ExecCmd) payload() any { return execCmdContent{Command: m.Command} }
func (m Log) payload() any     { return m.Line }
func (Heartbeat) payload() any { return nil }

func (m HostDisconnected) payload() any {
	return hostDisconnectedContent{Reason: m.Reason}
}

func (m Error) payload() any {
	return errorContent{Code: m.Code, Message: m.Message}
}

type frame struct {
	Type    MessageType `json:"type"`
	Content any         `json:"content,omitempty"`
}

type rawFrame struct {
	Type    MessageType     `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

type inputContent struct {
	Content string `json:"content"`
}

type execCmdContent struct {
	Command string `json:"command"`
}

type hostDisconnectedContent struct {
	Reason string `json:"reason"`
}

type errorContent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func EncodeViewer(m ViewerMessage) ([]byte, error) {
	return json.Marshal(frame{Type: m.Type(), Content: m.payload()})
}

func DecodeViewer(data []byte) (ViewerMessage, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch raw.Type {
	case TypeFetchLogs:
		return FetchLogs{}, nil
	case TypeHeartbeat:
		return Heartbeat{}, nil
	case TypeInput:
		var c inputContent
		if err := decodeContent(raw.Content, &c); err != nil {
			return nil, err
		}
		return Input{Content: c.Content}, nil
	case TypeExecCmd:
		var c execCmdContent
		if err := decodeContent(raw.Content, &c); err != nil {
			return nil, err
		}
		if c.Command == "" {
			return nil, fmt.Errorf("%w: empty command", ErrMalformedMessage)
		}
		return ExecCmd{Command: c.Command}, nil
	case TypeLog:
		var line string
		if err := decodeContent(raw.Content, &line); err != nil {
			return nil, err
		}
		return Log{Line: line}, nil
	case TypeLogHistory:
		var lines []string
		if err := decodeContent(raw.Content, &lines); err != nil {
			return nil, err
		}
		return LogHistory{Lines: lines}, nil
	case TypeHostDisconnected:
		var c hostDisconnectedContent
		if err := decodeContent(raw.Content, &c); err != nil {
			return nil, err
		}
		return HostDisconnected{Reason: c.Reason}, nil
	case TypeError:
		var c errorContent
		if err := decodeContent(raw.Content, &c); err != nil {
			return nil, err
		}
		return Error{Code: c.Code, Message: c.Message}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, raw.Type)
	}
}

func decodeContent(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing content", ErrMalformedMessage)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

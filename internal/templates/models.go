package templates

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type OSType string

const (
	OSLinux       OSType = "LINUX"
	OSLinuxDocker OSType = "LINUX_DOCKER"
	OSWindows     OSType = "WINDOWS"
	OSMacOS       OSType = "MACOS"
	OSAll         OSType = "ALL"
)

type SourceType string

const (
	SourceLocal     SourceType = "LOCAL"
	SourceHTTPS     SourceType = "HTTPS"
	SourceGit       SourceType = "GIT"
	SourceMaven     SourceType = "MAVEN"
	SourceNextcloud SourceType = "NEXTCLOUD"
)

const DefaultCommandTimeout = 60

var (
	ErrOSRequired    = errors.New("host OS is required")
	ErrUnsupportedOS = errors.New("unsupported host OS")
)

type Source struct {
	ID     string
	Name   string
	Type   SourceType
	Config string
}

type Command struct {
	ID          string
	TemplateID  string
	Name        string
	Script      string
	Timeout     int
	DefaultArgs string
}

type Template struct {
	ID        string
	Name      string
	OSType    OSType
	Source    *Source
	Commands  []Command
	CreatedAt time.Time
}

func (t *Template) SourceType() SourceType {
	if t.Source == nil {
		return ""
	}
	return t.Source.Type
}

// NormalizeOS maps the free-text OS tag of a host onto an OSType.
func NormalizeOS(hostOS string) (OSType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(hostOS))
	switch normalized {
	case "":
		return "", ErrOSRequired
	case "LINUX":
		return OSLinux, nil
	case "WINDOWS", "WIN":
		return OSWindows, nil
	case "LINUX_DOCKER", "DOCKER":
		return OSLinuxDocker, nil
	case "MACOS", "MAC", "DARWIN":
		return OSMacOS, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOS, hostOS)
	}
}

type CreateSourceParams struct {
	Name   string
	Type   SourceType
	Config string
}

type CreateCommandParams struct {
	Name        string
	Script      string
	Timeout     int
	DefaultArgs string
}

type CreateTemplateParams struct {
	Name     string
	OSType   OSType
	SourceID string
	Commands []CreateCommandParams
}

package installguide

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/easy-station/hostlink/internal/templates"
)

var (
	ErrNoResource          = errors.New("no agent resource matched host OS")
	ErrMissingFileMetadata = errors.New("agent source is missing file metadata")
	ErrInvalidSourceConfig = errors.New("failed to parse agent source config")
)

var fileNameKeys = []string{"fileName", "file", "assetName", "artifactName"}

// Resource is the agent artifact bound to a host OS.
type Resource struct {
	SourceID   string            `json:"sourceId"`
	SourceName string            `json:"sourceName"`
	FileName   string            `json:"fileName"`
	OSType     templates.OSType  `json:"osType"`
	Source     *templates.Source `json:"-"`
}

// Resolve picks the agent source for hostOS. A template for the exact OS
// wins over one marked ALL; among equals the first listed wins.
func Resolve(hostOS string, list []templates.Template) (Resource, error) {
	target, err := templates.NormalizeOS(hostOS)
	if err != nil {
		return Resource{}, err
	}

	candidates := make([]templates.Template, 0, len(list))
	for _, t := range list {
		if t.Source == nil || t.Source.ID == "" {
			continue
		}
		if t.OSType == target || t.OSType == templates.OSAll {
			candidates = append(candidates, t)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].OSType == target && candidates[j].OSType != target
	})

	if len(candidates) == 0 {
		return Resource{}, fmt.Errorf("%w: %s", ErrNoResource, target)
	}

	src := candidates[0].Source
	name, err := fileNameFromConfig(src.Config)
	if err != nil {
		return Resource{}, err
	}
	if name == "" {
		return Resource{}, fmt.Errorf("%w: %s", ErrMissingFileMetadata, src.Name)
	}

	return Resource{
		SourceID:   src.ID,
		SourceName: src.Name,
		FileName:   filepath.Base(filepath.FromSlash(name)),
		OSType:     target,
		Source:     src,
	}, nil
}

func fileNameFromConfig(raw string) (string, error) {
	cfg, err := parseSourceConfig(raw)
	if err != nil {
		return "", err
	}

	if name := firstString(cfg, fileNameKeys...); name != "" {
		return name, nil
	}

	if target, ok := cfg["target"].(map[string]any); ok {
		if name := nestedFileName(target); name != "" {
			return name, nil
		}
	}

	if targets, ok := cfg["targets"].([]any); ok {
		for _, t := range targets {
			if target, ok := t.(map[string]any); ok {
				if name := nestedFileName(target); name != "" {
					return name, nil
				}
			}
		}
	}

	for _, key := range []string{"url", "downloadUrl"} {
		if raw := firstString(cfg, key); raw != "" {
			if name := fileNameFromURL(raw); name != "" {
				return name, nil
			}
		}
	}

	if p := firstString(cfg, "filePath"); p != "" {
		return filepath.Base(filepath.FromSlash(p)), nil
	}
	return "", nil
}

func parseSourceConfig(raw string) (map[string]any, error) {
	cfg := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceConfig, err)
	}
	return cfg, nil
}

func nestedFileName(node map[string]any) string {
	if name := firstString(node, fileNameKeys...); name != "" {
		return name
	}
	if raw := firstString(node, "url"); raw != "" {
		return fileNameFromURL(raw)
	}
	return ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return ""
	}
	return path.Base(u.Path)
}

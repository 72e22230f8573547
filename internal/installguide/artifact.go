package installguide

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/easy-station/hostlink/internal/templates"
	"github.com/hashicorp/go-retryablehttp"
)

var (
	ErrSourceNotFetchable = errors.New("agent source type cannot be fetched")
	ErrArtifactNotFound   = errors.New("agent artifact not found")
)

// Fetcher opens the agent binary referenced by a source.
type Fetcher interface {
	Open(ctx context.Context, src *templates.Source) (io.ReadCloser, error)
}

// ArtifactFetcher reads LOCAL sources below a root directory and
// downloads HTTPS sources with retries.
type ArtifactFetcher struct {
	root string
	http *http.Client
}

func NewArtifactFetcher(root string) *ArtifactFetcher {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	return &ArtifactFetcher{
		root: root,
		http: retryClient.StandardClient(),
	}
}

func (f *ArtifactFetcher) Open(ctx context.Context, src *templates.Source) (io.ReadCloser, error) {
	cfg, err := parseSourceConfig(src.Config)
	if err != nil {
		return nil, err
	}

	switch src.Type {
	case templates.SourceLocal:
		return f.openLocal(firstString(cfg, "filePath"))
	case templates.SourceHTTPS:
		return f.download(ctx, firstString(cfg, "url", "downloadUrl"))
	default:
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFetchable, src.Type)
	}
}

func (f *ArtifactFetcher) openLocal(rel string) (io.ReadCloser, error) {
	if rel == "" {
		return nil, fmt.Errorf("%w: filePath is empty", ErrMissingFileMetadata)
	}

	root, err := filepath.Abs(f.root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	full := filepath.Join(root, filepath.Clean("/"+filepath.FromSlash(rel)))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s escapes artifact dir", ErrArtifactNotFound, rel)
	}

	file, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, rel)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return file, nil
}

func (f *ArtifactFetcher) download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: url is empty", ErrMissingFileMetadata)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build artifact request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download artifact: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, rawURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("download artifact: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

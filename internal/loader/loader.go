// Package loader resolves and opens model artifacts from an ordered list of locations.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/session"
)

// ErrModelUnavailable is returned when no candidate location produced a session
var ErrModelUnavailable = errors.New("model unavailable")

// Source tells which stage produced a session
type Source string

const (
	SourceBlob        Source = "blob"
	SourceFallbackDir Source = "fallback_dir"
	SourceDirect      Source = "direct"
)

// maxModelSize bounds a single artifact download
const maxModelSize = 512 << 20

// Config contains loader settings
type Config struct {
	BaseURL      string
	AssetPaths   []string
	FallbackDirs []string
	Timeout      time.Duration
}

// Result is a successfully opened model
type Result struct {
	Session  session.Session
	Source   Source
	Location string
}

// Loader fetches model bytes and hands them to a runtime
type Loader struct {
	cfg        Config
	runtime    session.Runtime
	httpClient *http.Client
	logger     *logger.Logger
}

// New creates a loader
func New(cfg Config, runtime session.Runtime, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.AssetPaths) == 0 {
		cfg.AssetPaths = []string{"/models", "/public/models", "assets/models"}
	}

	return &Loader{
		cfg:     cfg,
		runtime: runtime,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log,
	}
}

// Candidates lists the locations tried for filename, in order: every configured
// asset path, then the same paths qualified with the base URL.
func (l *Loader) Candidates(filename string) []string {
	candidates := make([]string, 0, len(l.cfg.AssetPaths)*2)
	for _, p := range l.cfg.AssetPaths {
		candidates = append(candidates, joinPath(p, filename))
	}

	if base := strings.TrimRight(l.cfg.BaseURL, "/"); base != "" {
		for _, p := range l.cfg.AssetPaths {
			candidates = append(candidates, base+"/"+strings.TrimLeft(joinPath(p, filename), "/"))
		}
	}

	return candidates
}

// Load opens filename from the first location that works. Failed attempts are
// logged and skipped; ErrModelUnavailable is returned once every stage is exhausted.
func (l *Loader) Load(ctx context.Context, filename string, opts session.Options) (*Result, error) {
	candidates := l.Candidates(filename)
	attempts := 0

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++

		target, err := l.resolve(candidate)
		if err != nil {
			l.logger.Debug("Skipping blob candidate", "candidate", candidate, "error", err)
			continue
		}

		data, err := l.fetch(ctx, target)
		if err != nil {
			l.logger.Warn("Model fetch failed", "url", target, "error", err)
			continue
		}

		s, err := l.runtime.FromBytes(ctx, data, opts)
		if err != nil {
			l.logger.Warn("Failed to open model from fetched bytes", "url", target, "error", err)
			continue
		}

		l.logger.Info("Model loaded", "source", SourceBlob, "location", target, "bytes", len(data))
		return &Result{Session: s, Source: SourceBlob, Location: target}, nil
	}

	for _, dir := range l.cfg.FallbackDirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++

		location := filepath.Join(dir, filename)
		data, err := os.ReadFile(location)
		if err != nil {
			l.logger.Warn("Model not found in fallback directory", "path", location, "error", err)
			continue
		}

		s, err := l.runtime.FromBytes(ctx, data, opts)
		if err != nil {
			l.logger.Warn("Failed to open model from fallback directory", "path", location, "error", err)
			continue
		}

		l.logger.Info("Model loaded", "source", SourceFallbackDir, "location", location, "bytes", len(data))
		return &Result{Session: s, Source: SourceFallbackDir, Location: location}, nil
	}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++

		s, err := l.runtime.FromPath(ctx, candidate, opts)
		if err != nil {
			l.logger.Warn("Runtime could not open model directly", "location", candidate, "error", err)
			continue
		}

		l.logger.Info("Model loaded", "source", SourceDirect, "location", candidate)
		return &Result{Session: s, Source: SourceDirect, Location: candidate}, nil
	}

	l.logger.Error("All model locations failed", "filename", filename, "attempts", attempts)
	return nil, fmt.Errorf("%w: %s (%d attempts)", ErrModelUnavailable, filename, attempts)
}

// resolve turns a candidate into an absolute http(s) URL
func (l *Loader) resolve(candidate string) (string, error) {
	if u, err := url.Parse(candidate); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return candidate, nil
	}
	if l.cfg.BaseURL == "" {
		return "", fmt.Errorf("no base url to resolve %s", candidate)
	}

	base, err := url.Parse(strings.TrimRight(l.cfg.BaseURL, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimLeft(candidate, "/"))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func (l *Loader) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModelSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) > maxModelSize {
		return nil, fmt.Errorf("model exceeds %d bytes", maxModelSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	return data, nil
}

func joinPath(dir, filename string) string {
	if dir == "" {
		return filename
	}
	return path.Join(dir, filename)
}

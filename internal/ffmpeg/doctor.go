package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheTTL = 5 * time.Minute
	probeTimeout    = 15 * time.Second
)

// Prober inspects the local ffmpeg installation.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// Probe runs `ffmpeg -version`, `-encoders` and `-filters`.
func (r *Renderer) Probe(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	version, err := r.output(ctx, "-hide_banner", "-version")
	if err != nil {
		// -hide_banner is rejected by some builds together with -version.
		version, err = r.output(ctx, "-version")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not usable at %q: %w", r.path, err)
		}
	}
	encoders, err := r.output(ctx, "-hide_banner", "-encoders")
	if err != nil {
		return nil, fmt.Errorf("list encoders: %w", err)
	}
	filters, err := r.output(ctx, "-hide_banner", "-filters")
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}

	enc := listedNames(encoders)
	flt := listedNames(filters)
	caps := &Capabilities{
		Path:         r.path,
		Version:      parseVersion(version),
		HasLibx264:   enc["libx264"],
		HasAAC:       enc["aac"],
		HasSubtitles: flt["subtitles"],
		ProbedAt:     time.Now(),
	}

	r.logger.Info("ffmpeg probe complete",
		"version", caps.Version,
		"libx264", caps.HasLibx264,
		"aac", caps.HasAAC,
		"subtitles", caps.HasSubtitles,
	)
	return caps, nil
}

func (r *Renderer) output(ctx context.Context, args ...string) (string, error) {
	cmd := commandContext(ctx, r.path, args...)
	var stdout, stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	if err := cmd.Run(); err != nil {
		if tail := strings.TrimSpace(stderrBuf.String()); tail != "" {
			return "", fmt.Errorf("%w: %s", err, truncate(tail, maxDiagnostic))
		}
		return "", err
	}
	return stdout.String(), nil
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Fields(first)
	if len(fields) >= 3 && fields[1] == "version" {
		return fields[2]
	}
	return strings.TrimSpace(first)
}

// listedNames collects the second column of ffmpeg's -encoders/-filters
// listings, e.g. " V....D libx264   libx264 H.264 ...".
func listedNames(out string) map[string]bool {
	names := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || strings.HasPrefix(fields[0], "-") || strings.HasSuffix(fields[0], ":") {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

// CachedDoctor caches probe results with a TTL so /status does not spawn
// ffmpeg on every request.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(prober Prober, ttl time.Duration, logger *slog.Logger) *CachedDoctor {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedDoctor{prober: prober, ttl: ttl, logger: logger}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe. A failed probe returns the stale cache if any.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("ffmpeg probe failed", "error", err)
		}
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/ffmpeg"
	"github.com/heimdex/heimdex-clipper/internal/pipeline"
	"github.com/heimdex/heimdex-clipper/internal/playback"
)

// Submitter starts background processing. *pipeline.Runner implements it.
type Submitter interface {
	Submit(ctx context.Context, id string, opts catalog.ProcessOptions) (*catalog.VideoRecord, error)
	Active() []pipeline.ActiveRun
}

// CapabilityCache reports the last ffmpeg probe. *ffmpeg.CachedDoctor implements it.
type CapabilityCache interface {
	Peek() *ffmpeg.Capabilities
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	BindAddress    string
	Port           int
	Videos         catalog.VideoService
	Runner         Submitter
	PlaybackServer playback.PlaybackService
	Doctor         CapabilityCache
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
	APIToken       string
	MaxUploadBytes int64
	// FallbackMode is true when no AI engine key is configured.
	FallbackMode bool
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	host := cfg.BindAddress
	if host == "" {
		host = "127.0.0.1"
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			// Uploads and clip downloads can be large; no body timeouts.
			ReadTimeout:  0,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

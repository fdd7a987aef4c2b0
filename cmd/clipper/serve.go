package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-clipper/internal/api"
	"github.com/heimdex/heimdex-clipper/internal/config"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/pipeline"
	"github.com/heimdex/heimdex-clipper/internal/playback"
)

const (
	shutdownTimeout = 30 * time.Second
	probeTimeout    = 20 * time.Second
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.EnvConfig) error {
	startTime := time.Now()
	logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())

	for _, dir := range []string{cfg.DataDir(), cfg.UploadDir(), cfg.ClipsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger.Info("starting heimdex clipper",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"config_source", cfg.Source(),
		"store", cfg.StoreDriver(),
	)

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.fallbackMode() {
		logger.Warn("no AI engine key configured, running in fallback mode")
	}

	// Probe in the background; /status reports nothing until it lands.
	go func() {
		probeCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		caps, err := a.doctor.Refresh(probeCtx)
		if err != nil {
			logger.Warn("initial ffmpeg probe failed", "error", err, "path", logging.SanitizePath(a.renderer.Path()))
			return
		}
		logger.Info("ffmpeg capabilities detected",
			"version", caps.Version,
			"can_render", caps.CanRender(),
			"can_burn_subtitles", caps.CanBurnSubtitles(),
		)
	}()

	runner := pipeline.NewRunner(a.orchestrator, logger)

	apiServer := api.NewServer(api.ServerConfig{
		BindAddress:    cfg.BindAddress(),
		Port:           cfg.Port(),
		Videos:         a.videos,
		Runner:         runner,
		PlaybackServer: playback.NewServer(logger),
		Doctor:         a.doctor,
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
		APIToken:       cfg.APIToken(),
		MaxUploadBytes: cfg.MaxFileSize(),
		FallbackMode:   a.fallbackMode(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("pipelines did not finish before the deadline", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/config"
	"github.com/heimdex/heimdex-clipper/internal/db"
	"github.com/heimdex/heimdex-clipper/internal/ffmpeg"
	"github.com/heimdex/heimdex-clipper/internal/highlights"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/pipeline"
	"github.com/heimdex/heimdex-clipper/internal/transcribe"
)

const doctorTTL = 10 * time.Minute

// app holds the components shared by serve and the offline commands.
type app struct {
	cfg          *config.EnvConfig
	logger       *slog.Logger
	lock         *db.Lock
	database     *db.DB
	videos       *catalog.Service
	renderer     *ffmpeg.Renderer
	doctor       *ffmpeg.CachedDoctor
	orchestrator *pipeline.Orchestrator
}

func openApp(cfg *config.EnvConfig, logger *slog.Logger) (*app, error) {
	lock, err := db.AcquireLock(cfg.LockPath())
	if err != nil {
		if errors.Is(err, db.ErrLocked) {
			return nil, fmt.Errorf("%w (lock file %s)", err, cfg.LockPath())
		}
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, lock: lock}

	var store catalog.Store
	switch cfg.StoreDriver() {
	case config.StoreMemory:
		logger.Warn("using in-memory registry, records are lost on exit")
		store = catalog.NewMemoryStore()
	default:
		database, err := db.New(cfg.DBPath(), logger)
		if err != nil {
			lock.Release()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.database = database
		store = catalog.NewSQLiteStore(database.Conn())
	}

	a.videos = catalog.NewService(store, cfg.UploadDir(), logging.WithComponent(logger, "catalog"))

	a.renderer = ffmpeg.NewRenderer(ffmpeg.Config{
		Path:   cfg.FFmpegPath(),
		Encode: ffmpeg.EncodeOptions{Preset: cfg.RenderPreset(), CRF: cfg.RenderCRF()},
		Logger: logger,
	})
	a.doctor = ffmpeg.NewCachedDoctor(a.renderer, doctorTTL, logging.WithComponent(logger, "doctor"))

	maxDuration := float64(cfg.ClipDuration())
	transcriber := transcribe.New(transcribe.Config{
		APIKey:  cfg.OpenAIKey(),
		BaseURL: cfg.OpenAIBaseURL(),
		Model:   cfg.TranscriptionModel(),
		Logger:  logger,
	})
	selector := highlights.New(highlights.Config{
		APIKey:      cfg.OpenAIKey(),
		BaseURL:     cfg.OpenAIBaseURL(),
		Model:       cfg.HighlightModel(),
		MaxDuration: maxDuration,
		Logger:      logger,
	})

	a.orchestrator = pipeline.NewOrchestrator(a.videos, transcriber, selector, a.renderer, pipeline.Config{
		ClipsDir:         cfg.ClipsDir(),
		Geometry:         ffmpeg.Geometry{Width: cfg.TargetWidth(), Height: cfg.TargetHeight()},
		DefaultClipCount: cfg.DefaultClipCount(),
		Concurrency:      cfg.RenderConcurrency(),
	}, logger)

	return a, nil
}

// fallbackMode reports whether the AI engines are replaced by the
// placeholder transcript and heuristic selection.
func (a *app) fallbackMode() bool {
	return a.cfg.OpenAIKey() == ""
}

func (a *app) Close() error {
	var errs []error
	if a.database != nil {
		errs = append(errs, a.database.Close())
	}
	errs = append(errs, a.lock.Release())
	return errors.Join(errs...)
}

// Package pipeline drives a video from uploaded to completed or failed:
// transcription, highlight selection, subtitles and clip rendering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/ffmpeg"
	"github.com/heimdex/heimdex-clipper/internal/highlights"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/subtitles"
	"github.com/heimdex/heimdex-clipper/internal/transcribe"
)

// ClipRenderer encodes one clip. *ffmpeg.Renderer is the production one.
type ClipRenderer interface {
	Render(ctx context.Context, job ffmpeg.Job, progress func(ffmpeg.Progress)) error
}

type Config struct {
	ClipsDir         string
	Geometry         ffmpeg.Geometry
	DefaultClipCount int
	// Concurrency bounds parallel clip renders per video; 1 renders in rank order.
	Concurrency int
}

type Orchestrator struct {
	videos      catalog.VideoService
	transcriber transcribe.Provider
	selector    highlights.Selector
	renderer    ClipRenderer
	cfg         Config
	logger      *slog.Logger
}

func NewOrchestrator(
	videos catalog.VideoService,
	transcriber transcribe.Provider,
	selector highlights.Selector,
	renderer ClipRenderer,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if !cfg.Geometry.Valid() {
		cfg.Geometry = ffmpeg.DefaultGeometry()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		videos:      videos,
		transcriber: transcriber,
		selector:    selector,
		renderer:    renderer,
		cfg:         cfg,
		logger:      logging.WithComponent(logger, "pipeline"),
	}
}

// Begin validates the options and moves the record to processing. Errors
// here are the caller's: not found, already processed, bad options.
func (o *Orchestrator) Begin(ctx context.Context, id string, opts catalog.ProcessOptions) (*catalog.VideoRecord, catalog.ProcessOptions, error) {
	opts = opts.Normalize(o.cfg.DefaultClipCount)
	if err := opts.Validate(); err != nil {
		return nil, opts, err
	}
	v, err := o.videos.BeginProcessing(ctx, id)
	if err != nil {
		return nil, opts, err
	}
	return v, opts, nil
}

// Process runs a whole pipeline synchronously. Only Begin errors are
// returned; pipeline failures are recorded on the returned record.
func (o *Orchestrator) Process(ctx context.Context, id string, opts catalog.ProcessOptions) (*catalog.VideoRecord, error) {
	v, opts, err := o.Begin(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, v, opts), nil
}

// Run takes a record already in processing to a terminal state.
func (o *Orchestrator) Run(ctx context.Context, v *catalog.VideoRecord, opts catalog.ProcessOptions) *catalog.VideoRecord {
	logger := logging.WithVideoID(o.logger, v.ID)
	start := time.Now()
	logger.Info("processing started", "clip_count", opts.ClipCount, "with_subtitles", opts.WithSubtitles)

	files := &artifactSet{}
	clips, err := o.produce(ctx, logger, v, opts, files)

	// Terminal writes must land even if ctx was cancelled mid-run.
	storeCtx := context.WithoutCancel(ctx)
	if err != nil {
		if rmErr := catalog.RemoveFiles(files.list()...); rmErr != nil {
			logger.Warn("failed to remove partial clip output", "error", rmErr)
		}
		logger.Error("processing failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		final, failErr := o.videos.Fail(storeCtx, v.ID, err.Error())
		if failErr != nil {
			logger.Error("failed to record failure", "error", failErr)
			return v
		}
		return final
	}

	final, err := o.videos.Complete(storeCtx, v.ID, clips)
	if err != nil {
		logger.Error("failed to record completion", "error", err)
		if rmErr := catalog.RemoveFiles(files.list()...); rmErr != nil {
			logger.Warn("failed to remove clip output", "error", rmErr)
		}
		if failed, failErr := o.videos.Fail(storeCtx, v.ID, err.Error()); failErr == nil {
			return failed
		}
		return v
	}
	logger.Info("processing completed", "clips", len(clips), "duration_ms", time.Since(start).Milliseconds())
	return final
}

// artifactSet records every file a run writes so a failed run can remove them.
type artifactSet struct {
	mu    sync.Mutex
	paths []string
}

func (a *artifactSet) track(paths ...string) {
	a.mu.Lock()
	a.paths = append(a.paths, paths...)
	a.mu.Unlock()
}

func (a *artifactSet) list() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.paths...)
}

// produce returns the clips in rank order. A panic anywhere in the run is
// turned into an error so the record still reaches a terminal state.
func (o *Orchestrator) produce(ctx context.Context, logger *slog.Logger, v *catalog.VideoRecord, opts catalog.ProcessOptions, files *artifactSet) (clips []catalog.ClipRecord, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("pipeline panicked", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			clips, err = nil, fmt.Errorf("internal error: %v", rec)
		}
	}()

	if _, err := os.Stat(v.SourcePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, catalog.Wrap(catalog.ErrStorage, "source video missing", err)
		}
		return nil, catalog.Wrap(catalog.ErrStorage, "stat source video", err)
	}

	transcript, err := o.transcriber.Transcribe(ctx, v.SourcePath)
	if err != nil {
		return nil, err
	}
	if err := transcript.Validate(); err != nil {
		return nil, err
	}
	logger.Info("transcript ready", "segments", len(transcript.Segments))

	picks := o.selector.Select(ctx, transcript, opts.ClipCount)
	if len(picks) > opts.ClipCount {
		picks = picks[:opts.ClipCount]
	}
	logger.Info("highlights selected", "count", len(picks))

	clips = make([]catalog.ClipRecord, len(picks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, h := range picks {
		g.Go(func() (err error) {
			// errgroup goroutines are outside produce's recover.
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("clip render panicked", "rank", i, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
					err = catalog.Wrap(catalog.ErrClipRendering, fmt.Sprintf("clip %d", i+1), fmt.Errorf("panic: %v", rec))
				}
			}()
			// A failed clip fails the run; do not start the remaining ones.
			if err := gctx.Err(); err != nil {
				return err
			}
			clip, err := o.renderClip(gctx, logger, v, i, h, transcript, opts.WithSubtitles, files.track)
			if err != nil {
				return err
			}
			clips[i] = clip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return clips, nil
}

func (o *Orchestrator) renderClip(
	ctx context.Context,
	logger *slog.Logger,
	v *catalog.VideoRecord,
	rank int,
	h catalog.Highlight,
	transcript *catalog.Transcript,
	withSubtitles bool,
	track func(paths ...string),
) (catalog.ClipRecord, error) {
	clip := catalog.ClipRecord{
		ID:              catalog.NewID(),
		Index:           rank,
		StartSeconds:    h.StartSeconds,
		EndSeconds:      h.EndSeconds,
		DurationSeconds: h.Duration(),
		Title:           h.Title,
		Description:     h.Description,
		Score:           h.Score,
	}
	clip.Filename = ClipFilename(v.ID, rank)
	clip.OutputPath = filepath.Join(o.cfg.ClipsDir, clip.Filename)
	clipLogger := logging.WithClipID(logger, clip.ID)

	if withSubtitles {
		if doc := subtitles.Render(transcript.Segments, h.StartSeconds, h.EndSeconds); doc != nil {
			srtPath := subtitles.SidecarPath(clip.OutputPath)
			track(srtPath)
			if err := subtitles.WriteFile(srtPath, doc); err != nil {
				// The clip is still useful without burned subtitles.
				clipLogger.Warn("subtitle write failed, rendering without subtitles", "error", err)
			} else {
				clip.SubtitlePath = srtPath
				clip.SubtitleFilename = filepath.Base(srtPath)
				clip.HasSubtitles = true
			}
		}
	}

	track(clip.OutputPath)
	err := o.renderer.Render(ctx, ffmpeg.Job{
		SourcePath:   v.SourcePath,
		OutputPath:   clip.OutputPath,
		Window:       ffmpeg.Window{Start: h.StartSeconds, End: h.EndSeconds},
		Geometry:     o.cfg.Geometry,
		SubtitlePath: clip.SubtitlePath,
	}, func(p ffmpeg.Progress) {
		clipLogger.Debug("render progress", "rank", rank, "percent", fmt.Sprintf("%.0f", p.Percent))
	})
	if err != nil {
		if !errors.Is(err, catalog.ErrClipRendering) && !errors.Is(err, catalog.ErrStorage) {
			err = catalog.Wrap(catalog.ErrClipRendering, fmt.Sprintf("clip %d", rank+1), err)
		}
		return clip, err
	}
	return clip, nil
}

// ClipFilename is the deterministic output name for the clip at rank.
func ClipFilename(videoID string, rank int) string {
	return fmt.Sprintf("%s_clip_%d.mp4", videoID, rank+1)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/logging"
)

var ErrShuttingDown = errors.New("runner is shutting down")

// Processor is the part of Orchestrator the Runner drives.
type Processor interface {
	Begin(ctx context.Context, id string, opts catalog.ProcessOptions) (*catalog.VideoRecord, catalog.ProcessOptions, error)
	Run(ctx context.Context, v *catalog.VideoRecord, opts catalog.ProcessOptions) *catalog.VideoRecord
}

// ActiveRun describes one in-flight pipeline.
type ActiveRun struct {
	VideoID   string    `json:"video_id"`
	StartedAt time.Time `json:"started_at"`
}

// Runner starts pipelines in the background, one goroutine per video.
type Runner struct {
	proc   Processor
	logger *slog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]time.Time
	closed bool
}

func NewRunner(proc Processor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		proc:   proc,
		logger: logging.WithComponent(logger, "runner"),
		base:   base,
		cancel: cancel,
		active: make(map[string]time.Time),
	}
}

// Submit moves the video to processing before returning, so the caller sees
// the processing record, then finishes the pipeline in the background.
func (r *Runner) Submit(ctx context.Context, id string, opts catalog.ProcessOptions) (*catalog.VideoRecord, error) {
	// Only the slot reservation needs the lock; Begin does store I/O.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	r.wg.Add(1)
	r.mu.Unlock()

	v, opts, err := r.proc.Begin(ctx, id, opts)
	if err != nil {
		r.wg.Done()
		if catalog.IsUserError(err) {
			r.logger.Debug("submit rejected", "video_id", id, "error", err)
		} else {
			r.logger.Error("submit failed", "video_id", id, "error", err)
		}
		return nil, err
	}

	r.mu.Lock()
	r.active[v.ID] = time.Now()
	r.mu.Unlock()
	go r.run(v, opts)

	return v, nil
}

func (r *Runner) run(v *catalog.VideoRecord, opts catalog.ProcessOptions) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.active, v.ID)
		r.mu.Unlock()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("pipeline panicked", "video_id", v.ID, "panic", fmt.Sprint(rec))
		}
	}()

	r.proc.Run(r.base, v, opts)
}

// Active lists in-flight runs, oldest first.
func (r *Runner) Active() []ActiveRun {
	r.mu.Lock()
	runs := make([]ActiveRun, 0, len(r.active))
	for id, started := range r.active {
		runs = append(runs, ActiveRun{VideoID: id, StartedAt: started})
	}
	r.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].VideoID < runs[j].VideoID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs
}

func (r *Runner) IsRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// Shutdown stops accepting work and waits for in-flight runs. When ctx
// expires first the runs are cancelled, which records them as failed.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	pending := len(r.active)
	r.mu.Unlock()

	if pending > 0 {
		r.logger.Info("waiting for in-flight pipelines", "count", pending)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.logger.Warn("shutdown deadline reached, cancelling pipelines")
		r.cancel()
		<-done
		return ctx.Err()
	}
}

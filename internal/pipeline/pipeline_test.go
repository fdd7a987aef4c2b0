package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/ffmpeg"
	"github.com/heimdex/heimdex-clipper/internal/highlights"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/transcribe"
)

type fakeTranscriber struct {
	calls int32
	fn    func(ctx context.Context, path string) (*catalog.Transcript, error)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (*catalog.Transcript, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(ctx, path)
}

type fakeRenderer struct {
	mu      sync.Mutex
	jobs    []ffmpeg.Job
	running int32
	peak    int32
	fn      func(ctx context.Context, job ffmpeg.Job) error
}

func (f *fakeRenderer) Render(ctx context.Context, job ffmpeg.Job, progress func(ffmpeg.Progress)) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	n := atomic.AddInt32(&f.running, 1)
	defer atomic.AddInt32(&f.running, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	if f.fn != nil {
		if err := f.fn(ctx, job); err != nil {
			return err
		}
	}
	if progress != nil {
		progress(ffmpeg.Progress{Percent: 100, Done: true})
	}
	return os.WriteFile(job.OutputPath, []byte("clip"), 0644)
}

func (f *fakeRenderer) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func sixSegments() *catalog.Transcript {
	tr := &catalog.Transcript{}
	for i := 0; i < 6; i++ {
		tr.Segments = append(tr.Segments, catalog.Segment{
			Index:        i,
			StartSeconds: float64(i * 10),
			EndSeconds:   float64((i + 1) * 10),
			Text:         "line " + string(rune('a'+i)),
		})
	}
	return tr
}

type harness struct {
	svc      *catalog.Service
	orch     *Orchestrator
	trans    *fakeTranscriber
	render   *fakeRenderer
	clipsDir string
	video    *catalog.VideoRecord
}

func newHarness(t *testing.T, concurrency int) *harness {
	t.Helper()
	root := t.TempDir()
	svc := catalog.NewService(catalog.NewMemoryStore(), filepath.Join(root, "uploads"), nil)
	v, err := svc.CreateUpload(context.Background(), "talk.mp4", strings.NewReader("video"))
	require.NoError(t, err)

	h := &harness{
		svc:      svc,
		trans:    &fakeTranscriber{fn: func(context.Context, string) (*catalog.Transcript, error) { return sixSegments(), nil }},
		render:   &fakeRenderer{},
		clipsDir: filepath.Join(root, "clips"),
		video:    v,
	}
	require.NoError(t, os.MkdirAll(h.clipsDir, 0755))
	h.orch = NewOrchestrator(svc, h.trans, highlights.FallbackSelector{MaxDuration: 60}, h.render, Config{
		ClipsDir:    h.clipsDir,
		Concurrency: concurrency,
	}, logging.Discard())
	return h
}

func (h *harness) clipsDirEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.clipsDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProcess_SixSegmentsTwoClipsWithSubtitles(t *testing.T) {
	h := newHarness(t, 1)

	got, err := h.orch.Process(context.Background(), h.video.ID, catalog.ProcessOptions{WithSubtitles: true, ClipCount: 2})
	require.NoError(t, err)

	assert.Equal(t, catalog.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, got.Clips, 2)

	first, second := got.Clips[0], got.Clips[1]
	assert.Equal(t, 0.0, first.StartSeconds)
	assert.Equal(t, 30.0, first.EndSeconds)
	assert.Equal(t, 30.0, second.StartSeconds)
	assert.Equal(t, 60.0, second.EndSeconds)
	assert.Greater(t, first.Score, second.Score)
	assert.Equal(t, h.video.ID+"_clip_1.mp4", first.Filename)
	assert.Equal(t, h.video.ID+"_clip_2.mp4", second.Filename)

	for _, c := range got.Clips {
		assert.True(t, c.HasSubtitles)
		assert.FileExists(t, c.OutputPath)
		assert.FileExists(t, c.SubtitlePath)
		assert.Equal(t, strings.TrimSuffix(c.Filename, ".mp4")+".srt", c.SubtitleFilename)
	}

	srt, err := os.ReadFile(second.SubtitlePath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(srt), "1\n00:00:00,000 --> 00:00:10,000\nline d"), "srt = %q", srt)

	require.Equal(t, 2, h.render.jobCount())
	assert.Equal(t, first.SubtitlePath, h.render.jobs[0].SubtitlePath)
	assert.Equal(t, ffmpeg.Window{Start: 30, End: 60}, h.render.jobs[1].Window)
	assert.Equal(t, ffmpeg.DefaultGeometry(), h.render.jobs[1].Geometry)

	stored, err := h.svc.Get(context.Background(), h.video.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, stored.Status)
}

func TestProcess_WithoutSubtitles(t *testing.T) {
	h := newHarness(t, 1)

	got, err := h.orch.Process(context.Background(), h.video.ID, catalog.ProcessOptions{ClipCount: 2})
	require.NoError(t, err)

	for _, c := range got.Clips {
		assert.False(t, c.HasSubtitles)
		assert.Empty(t, c.SubtitlePath)
	}
	assert.Len(t, h.clipsDirEntries(t), 2)
}

func TestProcess_DefaultClipCountWithPlaceholder(t *testing.T) {
	h := newHarness(t, 1)
	h.orch.transcriber = transcribe.Placeholder{}

	got, err := h.orch.Process(context.Background(), h.video.ID, catalog.ProcessOptions{WithSubtitles: true})
	require.NoError(t, err)

	require.Len(t, got.Clips, catalog.DefaultClipCount)
	assert.Equal(t, 15.0, got.Clips[1].StartSeconds)
	assert.Equal(t, 35.0, got.Clips[1].EndSeconds)
	for _, c := range got.Clips {
		assert.True(t, c.HasSubtitles, "clip %d", c.Index)
	}
}

func TestProcess_EmptyTranscriptCompletesWithoutClips(t *testing.T) {
	h := newHarness(t, 1)
	h.trans.fn = func(context.Context, string) (*catalog.Transcript, error) { return &catalog.Transcript{}, nil }

	got, err := h.orch.Process(context.Background(), h.video.ID, catalog.ProcessOptions{ClipCount: 3})
	require.NoError(t, err)

	assert.Equal(t, catalog.StatusCompleted, got.Status)
	assert.Empty(t, got.Clips)
	assert.Zero(t, h.render.jobCount())
}

func TestProcess_MissingSourceFails(t *testing.T) {
	h := newHarness(t, 1)
	require.NoError(t, os.Remove(h.video.SourcePath))

	got, err := h.orch.Process(context.Background(), h.video.ID, catalog.ProcessOptions{ClipCount: 2})
	require.NoError(t, err)

	assert.Equal(t, catalog.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "source video missing")
	assert.NotNil(t, got.CompletedAt)
	assert.Zero(t, atomic.LoadInt32(&h.trans.calls))
}

func TestProcess_TranscriptionFailure(t *testing.T) {
	h := newHarness(t, 1)
	h.trans.fn = func(context.Context, string) (*catalog.Transcript, error) {
		return nil, catalog.Wrap(catalog.ErrTranscriptionService, "transcription request", errors.New("503"))
	}

	got, err := h.orch.Process(context.Background(), h.video.ID, catalog.ProcessOptions{ClipCount: 2})
	require.NoError(t, err)

	assert.Equal(t, catalog.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "transcription service error")
	assert.Zero(t, h.render.jobCount())
}

func TestProcess_InvalidTranscriptFails(t *testing.T) {
	h := newHarness(t, 1)
	h.trans.fn = func(context.Context, string) (*catalog.Transcript, error) {
		return &catalog.Transcript{Segments: []catalog.Segment{{Index: 0, StartSeconds: 5, EndSeconds: 1}}}, nil
	}

	got, err := h.orch.Process(context.Background(), h.video.ID, catalog.ProcessOptions{ClipCount: 1})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "invalid transcript")
}

func TestProcess_ClipFailureDiscardsRun(t *testing.T) {
	h := newHarness(t, 1)
	h.render.fn = func(_ context.Context, job ffmpeg.Job) error {
		if strings.HasSuffix(job.OutputPath, "_clip_2.mp4") {
			return catalog.Wrap(catalog.ErrClipRendering, "ffmpeg: Invalid data found when processing input", nil)
		}
		return nil
	}

	got, err := h.orch.Process(context.Background(), h.video.ID, catalog.ProcessOptions{WithSubtitles: true, ClipCount: 3})
	require.NoError(t, err)

	assert.Equal(t, catalog.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "Invalid data found")
	assert.Empty(t, got.Clips)
	assert.Empty(t, h.clipsDirEntries(t), "partial output left behind")
	assert.Equal(t, 2, h.render.jobCount(), "rendering continued after a failure")
}

func TestProcess_PanickingRendererFailsRun(t *testing.T) {
	h := newHarness(t, 2)
	h.render.fn = func(_ context.Context, job ffmpeg.Job) error {
		if strings.HasSuffix(job.OutputPath, "_clip_1.mp4") {
			panic("nil frame buffer")
		}
		return nil
	}

	got, err := h.orch.Process(context.Background(), h.video.ID, catalog.ProcessOptions{WithSubtitles: true, ClipCount: 2})
	require.NoError(t, err)

	assert.Equal(t, catalog.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "clip rendering failed")
	assert.Contains(t, got.FailureReason, "nil frame buffer")
	assert.Empty(t, got.Clips)
	assert.Empty(t, h.clipsDirEntries(t), "partial output left behind")
}

// completeFailStore rejects the write that would mark a record completed.
type completeFailStore struct {
	*catalog.MemoryStore
}

func (s completeFailStore) Put(ctx context.Context, v *catalog.VideoRecord) error {
	if v.Status == catalog.StatusCompleted {
		return errors.New("disk I/O error")
	}
	return s.MemoryStore.Put(ctx, v)
}

func TestProcess_CompletionWriteFailureDiscardsClips(t *testing.T) {
	h := newHarness(t, 1)
	svc := catalog.NewService(completeFailStore{catalog.NewMemoryStore()}, filepath.Join(t.TempDir(), "uploads"), nil)
	v, err := svc.CreateUpload(context.Background(), "talk.mp4", strings.NewReader("video"))
	require.NoError(t, err)
	orch := NewOrchestrator(svc, h.trans, highlights.FallbackSelector{MaxDuration: 60}, h.render, Config{
		ClipsDir:    h.clipsDir,
		Concurrency: 1,
	}, logging.Discard())

	got, err := orch.Process(context.Background(), v.ID, catalog.ProcessOptions{WithSubtitles: true, ClipCount: 2})
	require.NoError(t, err)

	assert.Equal(t, catalog.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "disk I/O error")
	assert.Equal(t, 2, h.render.jobCount())
	assert.Empty(t, h.clipsDirEntries(t), "rendered clips left behind")
}

func TestProcess_ParallelKeepsRankOrder(t *testing.T) {
	h := newHarness(t, 3)
	h.render.fn = func(_ context.Context, job ffmpeg.Job) error {
		// Earlier ranks finish last.
		time.Sleep(time.Duration(60-job.Window.Start) * time.Millisecond)
		return nil
	}

	got, err := h.orch.Process(context.Background(), h.video.ID, catalog.ProcessOptions{ClipCount: 3})
	require.NoError(t, err)

	require.Len(t, got.Clips, 3)
	for i, c := range got.Clips {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, ClipFilename(h.video.ID, i), c.Filename)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&h.render.peak), int32(3))
}

func TestProcess_SequentialByDefault(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.orch.Process(context.Background(), h.video.ID, catalog.ProcessOptions{ClipCount: 3})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.render.peak))
}

func TestProcess_GuardErrors(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	_, err := h.orch.Process(ctx, "missing", catalog.ProcessOptions{})
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = h.orch.Process(ctx, h.video.ID, catalog.ProcessOptions{ClipCount: -2})
	assert.ErrorIs(t, err, catalog.ErrInvalidOptions)
	v, _ := h.svc.Get(ctx, h.video.ID)
	assert.Equal(t, catalog.StatusUploaded, v.Status)

	_, err = h.orch.Process(ctx, h.video.ID, catalog.ProcessOptions{ClipCount: 1})
	require.NoError(t, err)
	_, err = h.orch.Process(ctx, h.video.ID, catalog.ProcessOptions{ClipCount: 1})
	assert.ErrorIs(t, err, catalog.ErrAlreadyProcessed)
}

func TestRunner_SubmitReturnsProcessingRecord(t *testing.T) {
	h := newHarness(t, 1)
	release := make(chan struct{})
	h.render.fn = func(ctx context.Context, _ ffmpeg.Job) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r := NewRunner(h.orch, logging.Discard())
	ctx := context.Background()

	v, err := r.Submit(ctx, h.video.ID, catalog.ProcessOptions{ClipCount: 2})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusProcessing, v.Status)
	assert.True(t, r.IsRunning(h.video.ID))
	require.Len(t, r.Active(), 1)
	assert.Equal(t, h.video.ID, r.Active()[0].VideoID)

	_, err = r.Submit(ctx, h.video.ID, catalog.ProcessOptions{ClipCount: 2})
	assert.ErrorIs(t, err, catalog.ErrAlreadyProcessing)

	close(release)
	require.NoError(t, r.Shutdown(ctx))

	assert.False(t, r.IsRunning(h.video.ID))
	assert.Empty(t, r.Active())
	final, err := h.svc.Get(ctx, h.video.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, final.Status)
	assert.Len(t, final.Clips, 2)

	_, err = r.Submit(ctx, h.video.ID, catalog.ProcessOptions{})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestRunner_ShutdownDeadlineCancelsRuns(t *testing.T) {
	h := newHarness(t, 1)
	h.render.fn = func(ctx context.Context, _ ffmpeg.Job) error {
		<-ctx.Done()
		return ctx.Err()
	}
	r := NewRunner(h.orch, logging.Discard())

	_, err := r.Submit(context.Background(), h.video.ID, catalog.ProcessOptions{ClipCount: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Shutdown(ctx), context.DeadlineExceeded)

	final, err := h.svc.Get(context.Background(), h.video.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFailed, final.Status)
	assert.Empty(t, h.clipsDirEntries(t))
}

func TestRunner_GuardErrorsAreSynchronous(t *testing.T) {
	h := newHarness(t, 1)
	r := NewRunner(h.orch, logging.Discard())
	defer r.Shutdown(context.Background())

	_, err := r.Submit(context.Background(), "nope", catalog.ProcessOptions{})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Empty(t, r.Active())
}

func TestRunner_PanickingTranscriberFailsRun(t *testing.T) {
	h := newHarness(t, 1)
	h.trans.fn = func(context.Context, string) (*catalog.Transcript, error) {
		panic("decoder state corrupted")
	}
	r := NewRunner(h.orch, logging.Discard())
	ctx := context.Background()

	_, err := r.Submit(ctx, h.video.ID, catalog.ProcessOptions{ClipCount: 2})
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(ctx))

	final, err := h.svc.Get(ctx, h.video.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFailed, final.Status)
	assert.Contains(t, final.FailureReason, "internal error")
	assert.False(t, r.IsRunning(h.video.ID))
	assert.NoError(t, h.svc.Delete(ctx, h.video.ID), "record stuck in processing")
}

type blockingProcessor struct {
	gate chan struct{}
}

func (p *blockingProcessor) Begin(ctx context.Context, id string, opts catalog.ProcessOptions) (*catalog.VideoRecord, catalog.ProcessOptions, error) {
	if id == "slow" {
		<-p.gate
	}
	return &catalog.VideoRecord{ID: id, Status: catalog.StatusProcessing}, opts, nil
}

func (p *blockingProcessor) Run(ctx context.Context, v *catalog.VideoRecord, opts catalog.ProcessOptions) *catalog.VideoRecord {
	<-p.gate
	return v
}

func TestRunner_SlowBeginDoesNotBlockOtherSubmits(t *testing.T) {
	proc := &blockingProcessor{gate: make(chan struct{})}
	r := NewRunner(proc, logging.Discard())
	ctx := context.Background()

	slowDone := make(chan error, 1)
	go func() {
		_, err := r.Submit(ctx, "slow", catalog.ProcessOptions{})
		slowDone <- err
	}()

	fastDone := make(chan error, 1)
	go func() {
		_, err := r.Submit(ctx, "fast", catalog.ProcessOptions{})
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("submit blocked behind another video's Begin")
	}
	assert.True(t, r.IsRunning("fast"))
	assert.Len(t, r.Active(), 1)

	close(proc.gate)
	require.NoError(t, <-slowDone)
	require.NoError(t, r.Shutdown(ctx))
	assert.Empty(t, r.Active())
}

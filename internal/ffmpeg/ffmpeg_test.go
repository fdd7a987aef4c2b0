package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/logging"
)

// fakeFFmpeg writes an executable shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildArgs(t *testing.T) {
	job := Job{
		SourcePath: "/uploads/v.mp4",
		OutputPath: "/clips/v_clip_1.mp4",
		Window:     Window{Start: 10, End: 40.5},
		Geometry:   DefaultGeometry(),
	}
	got := strings.Join(BuildArgs(job, DefaultEncodeOptions()), " ")

	for _, want := range []string{
		"-progress pipe:1",
		"-ss 10.000 -i /uploads/v.mp4 -t 30.500",
		"-vf scale=1080:1920:force_original_aspect_ratio=increase,crop=1080:1920 ",
		"-c:v libx264 -preset fast -crf 23 -c:a aac -b:a 128k",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("args missing %q\n got: %s", want, got)
		}
	}
	if !strings.HasSuffix(got, " /clips/v_clip_1.mp4") {
		t.Errorf("output path not last: %s", got)
	}
	if strings.Contains(got, "subtitles=") {
		t.Error("subtitles filter present without a subtitle path")
	}
}

func TestBuildArgs_WithSubtitles(t *testing.T) {
	job := Job{
		SourcePath:   "in.mp4",
		OutputPath:   "out.mp4",
		Window:       Window{Start: 0, End: 5},
		Geometry:     Geometry{Width: 720, Height: 1280},
		SubtitlePath: "/clips/v_clip_1.srt",
	}
	args := BuildArgs(job, EncodeOptions{Preset: "veryfast", CRF: 28})

	var vf string
	for i, a := range args {
		if a == "-vf" {
			vf = args[i+1]
		}
	}
	want := "scale=720:1280:force_original_aspect_ratio=increase,crop=720:1280," +
		"subtitles=filename=/clips/v_clip_1.srt:force_style='Alignment=2,FontSize=24,MarginV=50'"
	if vf != want {
		t.Errorf("-vf = %q\nwant   %q", vf, want)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-preset veryfast -crf 28") {
		t.Errorf("encode options ignored: %s", joined)
	}
}

func TestEscapeFilterValue(t *testing.T) {
	tests := map[string]string{
		"/clips/a.srt":        "/clips/a.srt",
		"C:/clips/a.srt":      `C\\:/clips/a.srt`,
		"/tmp/it's.srt":       `/tmp/it\\\'s.srt`,
		"/tmp/a,b[1];c.srt":   `/tmp/a\,b\[1\]\;c.srt`,
	}
	for in, want := range tests {
		if got := escapeFilterValue(in); got != want {
			t.Errorf("escapeFilterValue(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProgressWriter(t *testing.T) {
	var events []Progress
	pw := &progressWriter{total: 20, emit: func(p Progress) { events = append(events, p) }}

	pw.Write([]byte("frame=10\nout_time_us=5000"))
	pw.Write([]byte("000\nprogress=continue\n"))
	pw.Write([]byte("out_time_us=25000000\nprogress=continue\nout_time_us=N/A\nprogress=end\n"))

	if len(events) != 3 {
		t.Fatalf("events = %d, want 3: %+v", len(events), events)
	}
	if events[0].Percent != 25 || events[0].OutTime != 5*time.Second {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Percent != 100 {
		t.Errorf("percent not clamped: %+v", events[1])
	}
	if !events[2].Done || events[2].Percent != 100 {
		t.Errorf("final event = %+v", events[2])
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	if got := buf.String(); got != " test data" {
		t.Errorf("after overflow got %q, want %q", got, " test data")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("abcdefghij", 3); got != "...hij" {
		t.Errorf("truncate = %q", got)
	}
}

func TestRender_Success(t *testing.T) {
	bin := fakeFFmpeg(t, `
for last; do :; done
printf 'out_time_us=1000000\nprogress=continue\nout_time_us=2000000\nprogress=end\n'
echo clip > "$last"
`)
	out := filepath.Join(t.TempDir(), "clips", "v_clip_1.mp4")
	r := NewRenderer(Config{Path: bin, Logger: logging.Discard()})

	var events int32
	var done atomic.Bool
	err := r.Render(context.Background(), Job{
		SourcePath: "in.mp4",
		OutputPath: out,
		Window:     Window{Start: 3, End: 5},
	}, func(p Progress) {
		atomic.AddInt32(&events, 1)
		if p.Done {
			done.Store(true)
		}
	})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if events != 2 || !done.Load() {
		t.Errorf("events = %d, done = %v", events, done.Load())
	}
}

func TestRender_FailureCarriesDiagnostic(t *testing.T) {
	bin := fakeFFmpeg(t, `
for last; do :; done
echo partial > "$last"
echo "Input #0, mov" >&2
echo "in.mp4: Invalid data found when processing input" >&2
exit 1
`)
	out := filepath.Join(t.TempDir(), "v_clip_1.mp4")
	r := NewRenderer(Config{Path: bin, Logger: logging.Discard()})

	err := r.Render(context.Background(), Job{SourcePath: "in.mp4", OutputPath: out, Window: Window{End: 5}}, nil)
	if !errors.Is(err, catalog.ErrClipRendering) {
		t.Fatalf("error = %v, want ErrClipRendering", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found when processing input") {
		t.Errorf("diagnostic missing from %q", err.Error())
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("partial output left behind")
	}
}

func TestRender_MissingBinary(t *testing.T) {
	r := NewRenderer(Config{Path: filepath.Join(t.TempDir(), "no-ffmpeg"), Logger: logging.Discard()})
	err := r.Render(context.Background(), Job{OutputPath: filepath.Join(t.TempDir(), "o.mp4"), Window: Window{End: 1}}, nil)
	if !errors.Is(err, catalog.ErrClipRendering) {
		t.Fatalf("error = %v, want ErrClipRendering", err)
	}
}

func TestRender_EmptyWindow(t *testing.T) {
	r := NewRenderer(Config{Logger: logging.Discard()})
	err := r.Render(context.Background(), Job{Window: Window{Start: 5, End: 5}}, nil)
	if !errors.Is(err, catalog.ErrClipRendering) {
		t.Fatalf("error = %v, want ErrClipRendering", err)
	}
}

const probeScript = `
case "$*" in
  *-version*) echo "ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers" ;;
  *-encoders*) printf 'Encoders:\n V..... = Video\n ------\n V....D libx264   libx264 H.264\n A....D aac       AAC (Advanced Audio Coding)\n' ;;
  *-filters*) printf 'Filters:\n  ------\n ... subtitles  V->V  Render text subtitles onto input video\n' ;;
esac
`

func TestProbe(t *testing.T) {
	r := NewRenderer(Config{Path: fakeFFmpeg(t, probeScript), Logger: logging.Discard()})

	caps, err := r.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if caps.Version != "6.1.1" {
		t.Errorf("Version = %q", caps.Version)
	}
	if !caps.CanRender() || !caps.CanBurnSubtitles() {
		t.Errorf("caps = %+v", caps)
	}
}

func TestProbe_MissingEncoders(t *testing.T) {
	bin := fakeFFmpeg(t, `
case "$*" in
  *-version*) echo "ffmpeg version n7.0" ;;
  *) echo "Encoders:" ;;
esac
`)
	caps, err := NewRenderer(Config{Path: bin, Logger: logging.Discard()}).Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if caps.CanRender() || caps.CanBurnSubtitles() {
		t.Errorf("caps = %+v, want nothing usable", caps)
	}
}

type fakeProber struct {
	calls int32
	caps  *Capabilities
	err   error
}

func (f *fakeProber) Probe(ctx context.Context) (*Capabilities, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	c := *f.caps
	c.ProbedAt = time.Now()
	return &c, nil
}

func TestCachedDoctor(t *testing.T) {
	fp := &fakeProber{caps: &Capabilities{Version: "6.1", HasLibx264: true, HasAAC: true}}
	d := NewCachedDoctor(fp, time.Hour, logging.Discard())
	ctx := context.Background()

	if d.Peek() != nil {
		t.Fatal("Peek before probe should be nil")
	}
	for i := 0; i < 3; i++ {
		if _, err := d.Get(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if fp.calls != 1 {
		t.Errorf("probe calls = %d, want 1", fp.calls)
	}

	fp.err = errors.New("gone")
	caps, err := d.Refresh(ctx)
	if err != nil || caps.Version != "6.1" {
		t.Fatalf("stale cache not returned: %v, %v", caps, err)
	}

	d.Invalidate()
	if _, err := d.Get(ctx); err == nil {
		t.Fatal("expected error with empty cache and failing probe")
	}
}

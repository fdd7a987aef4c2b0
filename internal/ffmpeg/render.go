package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics
	maxDiagnostic  = 512

	subtitleStyle = "Alignment=2,FontSize=24,MarginV=50"
)

var commandContext = exec.CommandContext

// Config holds the renderer's configuration.
type Config struct {
	Path   string // ffmpeg binary; empty means "ffmpeg" on PATH
	Encode EncodeOptions
	Logger *slog.Logger
}

// Renderer runs one ffmpeg process per clip.
type Renderer struct {
	path   string
	encode EncodeOptions
	logger *slog.Logger
}

func NewRenderer(cfg Config) *Renderer {
	path := cfg.Path
	if path == "" {
		path = "ffmpeg"
	}
	enc := cfg.Encode
	def := DefaultEncodeOptions()
	if enc.Preset == "" {
		enc.Preset = def.Preset
	}
	if enc.CRF <= 0 {
		enc.CRF = def.CRF
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Renderer{path: path, encode: enc, logger: logging.WithComponent(logger, "ffmpeg")}
}

func (r *Renderer) Path() string { return r.path }

// Render encodes job.Window of the source into job.OutputPath. progress may
// be nil. A failed render leaves no output file behind.
func (r *Renderer) Render(ctx context.Context, job Job, progress func(Progress)) error {
	if job.Window.Duration() <= 0 {
		return catalog.Wrap(catalog.ErrClipRendering, fmt.Sprintf("empty window %.3f-%.3f", job.Window.Start, job.Window.End), nil)
	}
	if !job.Geometry.Valid() {
		job.Geometry = DefaultGeometry()
	}
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0755); err != nil {
		return catalog.Wrap(catalog.ErrStorage, "create clips dir", err)
	}

	start := time.Now()
	args := BuildArgs(job, r.encode)
	cmd := commandContext(ctx, r.path, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = &progressWriter{total: job.Window.Duration(), emit: progress}

	r.logger.Debug("executing ffmpeg", "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		os.Remove(job.OutputPath)

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		diag := diagnostic(stderrBuf.String(), err)
		r.logger.Warn("clip render failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrBuf.String(), maxDiagnostic),
		)
		return catalog.Wrap(catalog.ErrClipRendering, diag, err)
	}

	attrs := []any{
		"output", filepath.Base(job.OutputPath),
		"window_start", job.Window.Start,
		"window_end", job.Window.End,
		"subtitles", job.SubtitlePath != "",
		"duration_ms", elapsed.Milliseconds(),
	}
	if info, statErr := os.Stat(job.OutputPath); statErr == nil {
		attrs = append(attrs, "size", humanize.IBytes(uint64(info.Size())))
	}
	r.logger.Info("clip rendered", attrs...)
	return nil
}

// BuildArgs returns the ffmpeg argument list for job. The source is seeked
// before -i so output timestamps, and burned subtitles, start at zero.
func BuildArgs(job Job, enc EncodeOptions) []string {
	g := job.Geometry
	if !g.Valid() {
		g = DefaultGeometry()
	}
	filters := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", g.Width, g.Height),
		fmt.Sprintf("crop=%d:%d", g.Width, g.Height),
	}
	if job.SubtitlePath != "" {
		filters = append(filters, SubtitlesFilter(job.SubtitlePath))
	}

	return []string{
		"-y", "-hide_banner", "-nostats",
		"-progress", "pipe:1",
		"-ss", formatSeconds(job.Window.Start),
		"-i", job.SourcePath,
		"-t", formatSeconds(job.Window.Duration()),
		"-vf", strings.Join(filters, ","),
		"-c:v", "libx264",
		"-preset", enc.Preset,
		"-crf", strconv.Itoa(enc.CRF),
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		job.OutputPath,
	}
}

// SubtitlesFilter builds a bottom-anchored subtitles filter for path.
func SubtitlesFilter(path string) string {
	return fmt.Sprintf("subtitles=filename=%s:force_style='%s'", escapeFilterValue(path), subtitleStyle)
}

// escapeFilterValue applies the two escaping levels ffmpeg expects for a
// filter option value: the option parser, then the filtergraph parser.
func escapeFilterValue(v string) string {
	option := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`).Replace(v)
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`, `[`, `\[`, `]`, `\]`, `,`, `\,`, `;`, `\;`).Replace(option)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// diagnostic picks the last non-empty stderr line, which is where ffmpeg
// reports the fatal error.
func diagnostic(stderr string, err error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return "ffmpeg: " + truncate(line, maxDiagnostic)
		}
	}
	return "ffmpeg: " + err.Error()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

// progressWriter parses `-progress` key=value lines into Progress events.
type progressWriter struct {
	total   float64
	emit    func(Progress)
	partial []byte
	outTime time.Duration
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.partial = append(pw.partial, p...)
	for {
		i := bytes.IndexByte(pw.partial, '\n')
		if i < 0 {
			break
		}
		pw.line(strings.TrimSpace(string(pw.partial[:i])))
		pw.partial = pw.partial[i+1:]
	}
	return n, nil
}

func (pw *progressWriter) line(line string) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// out_time_ms is also microseconds in ffmpeg's output.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return
		}
		pw.outTime = time.Duration(us) * time.Microsecond
	case "progress":
		if pw.emit == nil {
			return
		}
		if value == "end" {
			pw.emit(Progress{Percent: 100, OutTime: pw.outTime, Done: true})
			return
		}
		pw.emit(Progress{Percent: percent(pw.outTime, pw.total), OutTime: pw.outTime})
	}
}

func percent(done time.Duration, totalSeconds float64) float64 {
	if totalSeconds <= 0 {
		return 0
	}
	p := done.Seconds() / totalSeconds * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

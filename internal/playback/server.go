package playback

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

// ErrFileMissing is returned when the file to serve does not exist.
var ErrFileMissing = errors.New("file not found")

var contentTypes = map[string]string{
	".mp4": "video/mp4",
	".srt": "application/x-subrip",
}

// ServeOptions controls response headers.
type ServeOptions struct {
	// DownloadName, when set, asks the client to save the body under that name.
	DownloadName string
}

type PlaybackService interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath string, opts ServeOptions) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeFile writes filePath to w. Nothing is written when ErrFileMissing or
// another open error is returned, so the caller can render its own error.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string, opts ServeOptions) error {
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrFileMissing
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	size := stat.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType(filePath))
	if opts.DownloadName != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": opts.DownloadName}))
	}

	parsed, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	// A malformed header is ignored and the whole file is sent.
	if err != nil {
		parsed = nil
	}

	if parsed == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.copy(w, file, size)
		}
		return nil
	}

	if _, err := file.Seek(parsed.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	h.Set("Content-Length", strconv.FormatInt(parsed.ContentLength(), 10))
	h.Set("Content-Range", parsed.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		s.copy(w, file, parsed.ContentLength())
	}
	return nil
}

func (s *Server) copy(w io.Writer, r io.Reader, n int64) {
	if _, err := io.CopyN(w, r, n); err != nil && s.logger != nil {
		s.logger.Debug("client stopped reading", "error", err)
	}
}

func contentType(path string) string {
	ext := filepath.Ext(path)
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

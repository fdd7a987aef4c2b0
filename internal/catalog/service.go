package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// VideoService is the registry surface used by the transport layer and the
// pipeline. All mutations for one id are serialized.
type VideoService interface {
	CreateUpload(ctx context.Context, originalName string, r io.Reader) (*VideoRecord, error)
	Get(ctx context.Context, id string) (*VideoRecord, error)
	List(ctx context.Context) ([]*VideoRecord, error)
	Counts(ctx context.Context) (map[Status]int, error)
	BeginProcessing(ctx context.Context, id string) (*VideoRecord, error)
	Complete(ctx context.Context, id string, clips []ClipRecord) (*VideoRecord, error)
	Fail(ctx context.Context, id, reason string) (*VideoRecord, error)
	Delete(ctx context.Context, id string) error
	ClipFile(ctx context.Context, id, filename string) (string, error)
}

type Service struct {
	store     Store
	locks     *keyedMutex
	uploadDir string
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, uploadDir string, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		locks:     newKeyedMutex(),
		uploadDir: uploadDir,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateUpload stores the byte stream under a fresh id and registers an
// uploaded record. The size cap is enforced by the caller's reader.
func (s *Service) CreateUpload(ctx context.Context, originalName string, r io.Reader) (*VideoRecord, error) {
	originalName = filepath.Base(strings.TrimSpace(originalName))
	if !IsVideoFile(originalName) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, originalName)
	}

	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return nil, Wrap(ErrStorage, "create upload dir", err)
	}

	id := NewID()
	filename := id + strings.ToLower(filepath.Ext(originalName))
	dest := filepath.Join(s.uploadDir, filename)

	tmp, err := os.CreateTemp(s.uploadDir, ".upload-*")
	if err != nil {
		return nil, Wrap(ErrStorage, "create temp file", err)
	}
	tmpPath := tmp.Name()

	size, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		return nil, Wrap(ErrStorage, "write upload", errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return nil, Wrap(ErrStorage, "store upload", err)
	}

	video := &VideoRecord{
		ID:           id,
		OriginalName: originalName,
		Filename:     filename,
		SourcePath:   dest,
		SizeBytes:    size,
		Status:       StatusUploaded,
		CreatedAt:    s.now(),
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.Put(ctx, video); err != nil {
		os.Remove(dest)
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("video uploaded", "video_id", id, "original_name", originalName, "size", humanize.IBytes(uint64(size)))
	}
	return video.Clone(), nil
}

func (s *Service) Get(ctx context.Context, id string) (*VideoRecord, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*VideoRecord, error) {
	return s.store.List(ctx)
}

// Counts tallies records per status.
func (s *Service) Counts(ctx context.Context) (map[Status]int, error) {
	videos, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}
	for _, v := range videos {
		counts[v.Status]++
	}
	return counts, nil
}

// BeginProcessing moves an uploaded record to processing. It fails with
// ErrNotFound, ErrAlreadyProcessed or ErrAlreadyProcessing.
func (s *Service) BeginProcessing(ctx context.Context, id string) (*VideoRecord, error) {
	return s.update(ctx, id, func(v *VideoRecord) error {
		return v.transition(StatusProcessing, s.now())
	})
}

// Complete attaches the rendered clips and enters the completed state.
func (s *Service) Complete(ctx context.Context, id string, clips []ClipRecord) (*VideoRecord, error) {
	return s.update(ctx, id, func(v *VideoRecord) error {
		if err := v.transition(StatusCompleted, s.now()); err != nil {
			return err
		}
		v.Clips = append([]ClipRecord(nil), clips...)
		v.FailureReason = ""
		return nil
	})
}

// Fail enters the failed state with a readable reason and no clips.
func (s *Service) Fail(ctx context.Context, id, reason string) (*VideoRecord, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "processing failed"
	}
	return s.update(ctx, id, func(v *VideoRecord) error {
		if err := v.transition(StatusFailed, s.now()); err != nil {
			return err
		}
		v.Clips = nil
		v.FailureReason = reason
		return nil
	})
}

func (s *Service) update(ctx context.Context, id string, mutate func(v *VideoRecord) error) (*VideoRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	v, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := v.Status
	if err := mutate(v); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, v); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("video status changed", "video_id", id, "from", from, "to", v.Status)
	}
	return v.Clone(), nil
}

// Delete removes the record with its source, clips and subtitle sidecars.
// Files that are already gone are ignored.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	v, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if v.Status == StatusProcessing {
		return ErrAlreadyProcessing
	}

	paths := []string{v.SourcePath}
	for _, c := range v.Clips {
		paths = append(paths, c.OutputPath)
		if c.SubtitlePath != "" {
			paths = append(paths, c.SubtitlePath)
		}
	}
	if err := RemoveFiles(paths...); err != nil {
		return Wrap(ErrStorage, "delete video files", err)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("video deleted", "video_id", id, "files", len(paths))
	}
	return nil
}

// ClipFile resolves a clip or subtitle filename that belongs to the record.
func (s *Service) ClipFile(ctx context.Context, id, filename string) (string, error) {
	v, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	for _, c := range v.Clips {
		if c.Filename == filename {
			return c.OutputPath, nil
		}
		if c.SubtitleFilename != "" && c.SubtitleFilename == filename {
			return c.SubtitlePath, nil
		}
	}
	return "", fmt.Errorf("%w: clip %q", ErrNotFound, filename)
}

// RemoveFiles deletes each path, treating a missing file as success.
func RemoveFiles(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyProcessed  = errors.New("video already processed")
	ErrAlreadyProcessing = errors.New("video is already processing")
	ErrInvalidOptions    = errors.New("invalid options")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnsupportedFormat = errors.New("unsupported video format")

	ErrInvalidTranscript        = errors.New("invalid transcript")
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")
	ErrTranscriptionService     = errors.New("transcription service error")
	ErrClipRendering            = errors.New("clip rendering failed")
	ErrStorage                  = errors.New("storage error")
)

// Wrap tags err with a sentinel marker and an operation label so callers can
// classify it with errors.Is while keeping the underlying cause.
func Wrap(marker error, op string, err error) error {
	op = strings.TrimSpace(op)
	if op == "" {
		op = "operation failed"
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, op, err)
	}
	return fmt.Errorf("%w: %s", marker, op)
}

// IsUserError reports whether err stems from the caller rather than the system.
func IsUserError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrAlreadyProcessing) ||
		errors.Is(err, ErrInvalidOptions) ||
		errors.Is(err, ErrUnsupportedFormat)
}

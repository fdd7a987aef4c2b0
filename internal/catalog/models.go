package catalog

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a VideoRecord.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every state in lifecycle order.
var Statuses = []Status{StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CheckTransition reports whether a record may move from one status to
// another. Only Uploaded -> Processing -> {Completed, Failed} is allowed.
func CheckTransition(from, to Status) error {
	switch {
	case from == StatusUploaded && to == StatusProcessing:
		return nil
	case from == StatusProcessing && (to == StatusCompleted || to == StatusFailed):
		return nil
	case from.IsTerminal() && to == StatusProcessing:
		return ErrAlreadyProcessed
	case from == StatusProcessing && to == StatusProcessing:
		return ErrAlreadyProcessing
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
}

// VideoRecord is one uploaded video and, once processed, its clips.
type VideoRecord struct {
	ID            string       `json:"id"`
	OriginalName  string       `json:"original_name"`
	Filename      string       `json:"filename"`
	SourcePath    string       `json:"-"`
	SizeBytes     int64        `json:"size_bytes"`
	Status        Status       `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	Clips         []ClipRecord `json:"clips"`
	FailureReason string       `json:"failure_reason,omitempty"`
}

func (v *VideoRecord) IsTerminal() bool {
	return v.Status.IsTerminal()
}

// transition moves the record to a new status, stamping CompletedAt when a
// terminal state is entered.
func (v *VideoRecord) transition(to Status, now time.Time) error {
	if err := CheckTransition(v.Status, to); err != nil {
		return err
	}
	v.Status = to
	if to.IsTerminal() {
		t := now
		v.CompletedAt = &t
	}
	return nil
}

// Clone returns a deep copy so callers never share a record with the store.
func (v *VideoRecord) Clone() *VideoRecord {
	if v == nil {
		return nil
	}
	c := *v
	if v.CompletedAt != nil {
		t := *v.CompletedAt
		c.CompletedAt = &t
	}
	if v.Clips != nil {
		c.Clips = make([]ClipRecord, len(v.Clips))
		copy(c.Clips, v.Clips)
	}
	return &c
}

// ClipRecord is one rendered highlight.
type ClipRecord struct {
	ID               string  `json:"id"`
	Index            int     `json:"index"`
	StartSeconds     float64 `json:"start_seconds"`
	EndSeconds       float64 `json:"end_seconds"`
	DurationSeconds  float64 `json:"duration_seconds"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	Score            float64 `json:"score"`
	Filename         string  `json:"filename"`
	OutputPath       string  `json:"-"`
	SubtitleFilename string  `json:"subtitle_filename,omitempty"`
	SubtitlePath     string  `json:"-"`
	HasSubtitles     bool    `json:"has_subtitles"`
}

// Segment is one time-stamped unit of a transcript.
type Segment struct {
	Index        int     `json:"index"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Text         string  `json:"text"`
}

// Transcript is produced once per processing run and never persisted.
type Transcript struct {
	FullText string    `json:"full_text"`
	Segments []Segment `json:"segments"`
}

// Validate checks segment ordering and shape.
func (t *Transcript) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: transcript is nil", ErrInvalidTranscript)
	}
	if strings.TrimSpace(t.FullText) != "" && len(t.Segments) == 0 {
		return fmt.Errorf("%w: text present but no segments", ErrInvalidTranscript)
	}
	for i, seg := range t.Segments {
		if seg.Index != i {
			return fmt.Errorf("%w: segment %d has index %d", ErrInvalidTranscript, i, seg.Index)
		}
		if seg.StartSeconds < 0 {
			return fmt.Errorf("%w: segment %d starts before zero", ErrInvalidTranscript, i)
		}
		if seg.EndSeconds <= seg.StartSeconds {
			return fmt.Errorf("%w: segment %d has end %.3f <= start %.3f", ErrInvalidTranscript, i, seg.EndSeconds, seg.StartSeconds)
		}
		if i > 0 && seg.StartSeconds < t.Segments[i-1].StartSeconds {
			return fmt.Errorf("%w: segment %d starts before segment %d", ErrInvalidTranscript, i, i-1)
		}
	}
	return nil
}

// Highlight is a candidate clip window proposed by a selector.
type Highlight struct {
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Score        float64 `json:"score"`
}

func (h Highlight) Duration() float64 {
	return h.EndSeconds - h.StartSeconds
}

// DefaultClipCount is used when a request leaves the clip count unset.
const DefaultClipCount = 3

// ProcessOptions are the caller's knobs for one processing run.
type ProcessOptions struct {
	WithSubtitles bool `json:"with_subtitles"`
	ClipCount     int  `json:"clip_count"`
}

// Normalize fills in the default clip count when unset.
func (o ProcessOptions) Normalize(defaultCount int) ProcessOptions {
	if o.ClipCount == 0 {
		if defaultCount < 1 {
			defaultCount = DefaultClipCount
		}
		o.ClipCount = defaultCount
	}
	return o
}

func (o ProcessOptions) Validate() error {
	if o.ClipCount < 1 {
		return fmt.Errorf("%w: clip_count must be at least 1, got %d", ErrInvalidOptions, o.ClipCount)
	}
	return nil
}

var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
	".m4v":  true,
}

func NewID() string {
	return uuid.NewString()
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}

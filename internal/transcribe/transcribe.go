// Package transcribe turns a stored video into a timed transcript.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sashabaranov/go-openai"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/logging"
)

// Provider produces a transcript for a video file.
type Provider interface {
	Transcribe(ctx context.Context, sourcePath string) (*catalog.Transcript, error)
}

// Config configures the speech-to-text backend.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *slog.Logger
}

// New returns an OpenAIProvider, or the Placeholder when no API key is set.
func New(cfg Config) Provider {
	if cfg.APIKey == "" {
		if cfg.Logger != nil {
			cfg.Logger.Warn("transcription engine not configured, using placeholder transcript")
		}
		return Placeholder{}
	}
	return NewOpenAIProvider(cfg)
}

// OpenAIProvider calls the Whisper transcription endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		logger: logging.WithComponent(logger, "transcribe"),
	}
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, sourcePath string) (*catalog.Transcript, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, catalog.Wrap(catalog.ErrStorage, "source video missing", err)
		}
		return nil, catalog.Wrap(catalog.ErrStorage, "stat source video", err)
	}

	p.logger.Info("transcribing video",
		"path", logging.SanitizePath(sourcePath),
		"size", humanize.IBytes(uint64(info.Size())),
		"model", p.model,
	)

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:                  p.model,
		FilePath:               sourcePath,
		Format:                 openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{openai.TranscriptionTimestampGranularitySegment},
	})
	if err != nil {
		return nil, classify(err)
	}

	transcript := &catalog.Transcript{FullText: strings.TrimSpace(resp.Text)}
	for _, seg := range resp.Segments {
		if seg.End <= seg.Start {
			continue
		}
		transcript.Segments = append(transcript.Segments, catalog.Segment{
			Index:        len(transcript.Segments),
			StartSeconds: seg.Start,
			EndSeconds:   seg.End,
			Text:         strings.TrimSpace(seg.Text),
		})
	}
	if err := transcript.Validate(); err != nil {
		return nil, err
	}

	p.logger.Info("transcription complete", "segments", len(transcript.Segments), "duration", resp.Duration)
	return transcript, nil
}

// classify maps client errors onto catalog markers. Rejections of the input
// itself mean the engine cannot handle this video.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return catalog.Wrap(catalog.ErrTranscriptionUnavailable, fmt.Sprintf("engine rejected input (http %d)", status), err)
	default:
		return catalog.Wrap(catalog.ErrTranscriptionService, "transcription request", err)
	}
}

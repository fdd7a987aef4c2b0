package highlights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/logging"
)

const systemPrompt = "You are an AI assistant specialized in analyzing video transcriptions and identifying the most engaging moments for social media clips. Return only valid JSON."

const defaultTemperature = 0.7

// Config configures the chat-completion backed selector.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxDuration float64
	Logger      *slog.Logger
}

// New returns an LLMSelector when an API key is configured and a
// FallbackSelector otherwise.
func New(cfg Config) Selector {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.APIKey == "" {
		if cfg.Logger != nil {
			cfg.Logger.Warn("highlight engine not configured, using fallback selection")
		}
		return FallbackSelector{MaxDuration: cfg.MaxDuration}
	}
	return NewLLMSelector(cfg)
}

// LLMSelector asks a chat model for highlights in JSON mode.
type LLMSelector struct {
	client      *openai.Client
	model       string
	maxDuration float64
	logger      *slog.Logger
}

func NewLLMSelector(cfg Config) *LLMSelector {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4
	}
	maxDur := cfg.MaxDuration
	if maxDur <= 0 {
		maxDur = DefaultMaxDuration
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &LLMSelector{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		maxDuration: maxDur,
		logger:      logging.WithComponent(logger, "highlights"),
	}
}

// Select never fails: any engine or parse problem falls back to chunking.
func (s *LLMSelector) Select(ctx context.Context, transcript *catalog.Transcript, count int) []catalog.Highlight {
	if transcript == nil || len(transcript.Segments) == 0 || count < 1 {
		return []catalog.Highlight{}
	}

	highlights, err := s.request(ctx, transcript, count)
	if err == nil && len(highlights) == 0 {
		err = errors.New("no usable highlights in response")
	}
	if err != nil {
		s.logger.Warn("highlight detection failed, using fallback", "error", err)
		return Fallback(transcript.Segments, count, s.maxDuration)
	}

	s.logger.Info("highlights detected", "count", len(highlights), "model", s.model)
	return highlights
}

type llmHighlight struct {
	StartTime   float64 `json:"startTime"`
	EndTime     float64 `json:"endTime"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type llmResponse struct {
	Highlights []llmHighlight `json:"highlights"`
}

func (s *LLMSelector) request(ctx context.Context, transcript *catalog.Transcript, count int) ([]catalog.Highlight, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(transcript, count, s.maxDuration)},
		},
		Temperature: defaultTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	if content == "" {
		content = "{}"
	}
	var parsed llmResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("parse highlights: %w", err)
	}
	return sanitize(parsed.Highlights, count, s.maxDuration), nil
}

// stripCodeFence removes a ```json fence some models wrap around JSON output.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimPrefix(content, "json")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// BuildPrompt renders the user prompt listing every timed segment.
func BuildPrompt(transcript *catalog.Transcript, count int, maxDuration float64) string {
	lines := make([]string, len(transcript.Segments))
	for i, seg := range transcript.Segments {
		lines[i] = fmt.Sprintf("[%ss - %ss]: %s", fmtSeconds(seg.StartSeconds), fmtSeconds(seg.EndSeconds), seg.Text)
	}

	return fmt.Sprintf(`Analyze the following video transcription and identify the %d most engaging moments for TikTok, Instagram, and YouTube Shorts clips.

Transcription:
%s

For each highlight, provide:
1. startTime: Start time in seconds
2. endTime: End time in seconds (max %s seconds duration)
3. title: A catchy title for the clip
4. description: A brief description of why this moment is engaging
5. score: Engagement score (0-100)

Return the response in JSON format:
{
  "highlights": [
    {
      "startTime": number,
      "endTime": number,
      "title": string,
      "description": string,
      "score": number
    }
  ]
}`, count, strings.Join(lines, "\n"), fmtSeconds(maxDuration))
}

// sanitize drops unusable windows, caps durations and scores, orders by
// descending score and keeps at most count entries.
func sanitize(raw []llmHighlight, count int, maxDuration float64) []catalog.Highlight {
	out := make([]catalog.Highlight, 0, len(raw))
	for _, h := range raw {
		if h.StartTime < 0 || h.EndTime <= h.StartTime {
			continue
		}
		end := h.EndTime
		if end-h.StartTime > maxDuration {
			end = h.StartTime + maxDuration
		}
		score := h.Score
		if score < 0 {
			score = 0
		}
		if score > 100 {
			score = 100
		}
		out = append(out, catalog.Highlight{
			StartSeconds: h.StartTime,
			EndSeconds:   end,
			Title:        strings.TrimSpace(h.Title),
			Description:  strings.TrimSpace(h.Description),
			Score:        score,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > count {
		out = out[:count]
	}
	for i := range out {
		if out[i].Title == "" {
			out[i].Title = fmt.Sprintf("Highlight %d", i+1)
		}
	}
	return out
}

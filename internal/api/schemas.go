package api

import (
	"net/url"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/pipeline"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	Videos       map[catalog.Status]int `json:"videos"`
	ActiveRuns   []pipeline.ActiveRun   `json:"active_runs"`
	FallbackMode bool                   `json:"fallback_mode"`
	FFmpeg       *FFmpegStatusResponse  `json:"ffmpeg,omitempty"`
}

type FFmpegStatusResponse struct {
	Version          string `json:"version"`
	CanRender        bool   `json:"can_render"`
	CanBurnSubtitles bool   `json:"can_burn_subtitles"`
	LastProbeAt      string `json:"last_probe_at,omitempty"`
}

type ProcessRequest struct {
	WithSubtitles bool `json:"with_subtitles"`
	ClipCount     int  `json:"clip_count"`
}

type VideoResponse struct {
	ID            string         `json:"id"`
	OriginalName  string         `json:"original_name"`
	Filename      string         `json:"filename"`
	SizeBytes     int64          `json:"size_bytes"`
	Status        catalog.Status `json:"status"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     string         `json:"created_at"`
	CompletedAt   string         `json:"completed_at,omitempty"`
	Clips         []ClipResponse `json:"clips"`
}

type ClipResponse struct {
	ID               string  `json:"id"`
	Index            int     `json:"index"`
	StartSeconds     float64 `json:"start_seconds"`
	EndSeconds       float64 `json:"end_seconds"`
	DurationSeconds  float64 `json:"duration_seconds"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	Score            float64 `json:"score"`
	Filename         string  `json:"filename"`
	URL              string  `json:"url"`
	HasSubtitles     bool    `json:"has_subtitles"`
	SubtitleFilename string  `json:"subtitle_filename,omitempty"`
	SubtitleURL      string  `json:"subtitle_url,omitempty"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func clipURL(videoID, filename string) string {
	return "/api/videos/" + url.PathEscape(videoID) + "/clips/" + url.PathEscape(filename)
}

func VideoToResponse(v *catalog.VideoRecord) VideoResponse {
	resp := VideoResponse{
		ID:            v.ID,
		OriginalName:  v.OriginalName,
		Filename:      v.Filename,
		SizeBytes:     v.SizeBytes,
		Status:        v.Status,
		FailureReason: v.FailureReason,
		CreatedAt:     v.CreatedAt.UTC().Format(time.RFC3339),
		Clips:         make([]ClipResponse, len(v.Clips)),
	}
	if v.CompletedAt != nil {
		resp.CompletedAt = v.CompletedAt.UTC().Format(time.RFC3339)
	}
	for i, c := range v.Clips {
		resp.Clips[i] = ClipResponse{
			ID:               c.ID,
			Index:            c.Index,
			StartSeconds:     c.StartSeconds,
			EndSeconds:       c.EndSeconds,
			DurationSeconds:  c.DurationSeconds,
			Title:            c.Title,
			Description:      c.Description,
			Score:            c.Score,
			Filename:         c.Filename,
			URL:              clipURL(v.ID, c.Filename),
			HasSubtitles:     c.HasSubtitles,
			SubtitleFilename: c.SubtitleFilename,
		}
		if c.SubtitleFilename != "" {
			resp.Clips[i].SubtitleURL = clipURL(v.ID, c.SubtitleFilename)
		}
	}
	return resp
}

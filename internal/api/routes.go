package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/export"
	"github.com/heimdex/heimdex-clipper/internal/playback"
)

const uploadField = "video"

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.APIToken, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Route("/api/videos", func(r chi.Router) {
			r.Post("/upload", uploadHandler(cfg))
			r.Get("/", listVideosHandler(cfg))
			r.Get("/{id}", getVideoHandler(cfg))
			r.Post("/{id}/process", processHandler(cfg))
			r.Delete("/{id}", deleteVideoHandler(cfg))
			r.Get("/{id}/clips/{filename}", clipHandler(cfg))
			r.Head("/{id}/clips/{filename}", clipHandler(cfg))
			r.Get("/{id}/export.edl", exportEDLHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := cfg.Videos.Counts(r.Context())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := StatusResponse{
			Videos:       counts,
			ActiveRuns:   cfg.Runner.Active(),
			FallbackMode: cfg.FallbackMode,
		}

		// Peek only: probing spawns ffmpeg and belongs to startup or `doctor`.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.FFmpeg = &FFmpegStatusResponse{
					Version:          caps.Version,
					CanRender:        caps.CanRender(),
					CanBurnSubtitles: caps.CanBurnSubtitles(),
				}
				if !caps.ProbedAt.IsZero() {
					resp.FFmpeg.LastProbeAt = caps.ProbedAt.UTC().Format(time.RFC3339)
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		}

		mr, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "expected multipart/form-data body", "BAD_REQUEST")
			return
		}

		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeServiceError(w, cfg.Logger, err)
					return
				}
				WriteError(w, http.StatusBadRequest, "malformed multipart body", "BAD_REQUEST")
				return
			}
			if part.FormName() != uploadField || part.FileName() == "" {
				part.Close()
				continue
			}

			v, err := cfg.Videos.CreateUpload(r.Context(), part.FileName(), part)
			part.Close()
			if err != nil {
				writeServiceError(w, cfg.Logger, err)
				return
			}
			WriteJSON(w, http.StatusCreated, VideoToResponse(v))
			return
		}

		WriteError(w, http.StatusBadRequest, "video file is required", "BAD_REQUEST")
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cfg.Videos.List(r.Context())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Videos.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, VideoToResponse(v))
	}
}

func processHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProcessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		v, err := cfg.Runner.Submit(r.Context(), chi.URLParam(r, "id"), catalog.ProcessOptions{
			WithSubtitles: req.WithSubtitles,
			ClipCount:     req.ClipCount,
		})
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, VideoToResponse(v))
	}
}

func deleteVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Videos.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, MessageResponse{Message: "video deleted"})
	}
}

func clipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		filename := chi.URLParam(r, "filename")

		path, err := cfg.Videos.ClipFile(r.Context(), id, filename)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		err = cfg.PlaybackServer.ServeFile(w, r, path, playback.ServeOptions{DownloadName: filename})
		if errors.Is(err, playback.ErrFileMissing) {
			WriteError(w, http.StatusNotFound, "clip file missing", "NOT_FOUND")
			return
		}
		if err != nil {
			cfg.Logger.Error("clip download error", "error", err, "video_id", id, "filename", filename)
		}
	}
}

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frameRate, err := export.ParseFrameRate(r.URL.Query().Get("fps"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		v, err := cfg.Videos.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if v.Status != catalog.StatusCompleted {
			WriteError(w, http.StatusConflict, fmt.Sprintf("video is %s, not completed", v.Status), "NOT_COMPLETED")
			return
		}

		edl := export.GenerateEDL(export.EventsForVideo(v), export.Title(v), frameRate)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": v.ID + ".edl"}))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, edl)
	}
}

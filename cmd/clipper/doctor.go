package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-clipper/internal/ffmpeg"
)

// doctor only probes ffmpeg, so it does not take the data directory lock.
func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that ffmpeg can render clips",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			renderer := ffmpeg.NewRenderer(ffmpeg.Config{Path: cfg.FFmpegPath(), Logger: ctx.logger()})

			probeCtx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()
			caps, err := renderer.Probe(probeCtx)
			if err != nil {
				return fmt.Errorf("ffmpeg at %q is not usable: %w", renderer.Path(), err)
			}

			engines := "configured"
			if cfg.OpenAIKey() == "" {
				engines = "not configured (fallback mode)"
			}
			rows := [][]string{
				{"ffmpeg", caps.Path},
				{"Version", caps.Version},
				{"libx264", yesNo(caps.HasLibx264)},
				{"aac", yesNo(caps.HasAAC)},
				{"subtitles filter", yesNo(caps.HasSubtitles)},
				{"Can render", yesNo(caps.CanRender())},
				{"Can burn subtitles", yesNo(caps.CanBurnSubtitles())},
				{"AI engines", engines},
				{"Probed at", caps.ProbedAt.Format(time.RFC3339)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Result"}, rows, nil))

			if !caps.CanRender() {
				return fmt.Errorf("ffmpeg lacks libx264 or aac")
			}
			return nil
		},
	}
}

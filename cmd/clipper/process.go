package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/subtitles"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var (
		withSubtitles bool
		clipCount     int
	)

	cmd := &cobra.Command{
		Use:   "process <video-file | video-id>",
		Short: "Register a video if needed and process it in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg, ctx.logger())
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := resolveVideo(cmd.Context(), a.videos, args[0])
			if err != nil {
				return err
			}

			v, err := a.orchestrator.Process(cmd.Context(), id, catalog.ProcessOptions{
				WithSubtitles: withSubtitles,
				ClipCount:     clipCount,
			})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), v)
			if v.Status == catalog.StatusFailed {
				return fmt.Errorf("processing failed: %s", v.FailureReason)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withSubtitles, "subtitles", false, "Burn subtitles into each clip")
	cmd.Flags().IntVarP(&clipCount, "clips", "n", 0, "Number of clips (default from config)")
	return cmd
}

// resolveVideo returns the id for an existing record, or uploads the file at
// arg and returns the new record's id.
func resolveVideo(ctx context.Context, videos catalog.VideoService, arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		f, err := os.Open(arg)
		if err != nil {
			return "", err
		}
		defer f.Close()
		v, err := videos.CreateUpload(ctx, filepath.Base(arg), f)
		if err != nil {
			return "", err
		}
		return v.ID, nil
	}
	v, err := videos.Get(ctx, arg)
	if err != nil {
		return "", fmt.Errorf("%q is neither a readable file nor a known video id: %w", arg, err)
	}
	return v.ID, nil
}

func printResult(w io.Writer, v *catalog.VideoRecord) {
	fmt.Fprintf(w, "Video %s (%s): %s\n", v.ID, v.OriginalName, v.Status)
	if len(v.Clips) == 0 {
		return
	}

	rows := make([][]string, 0, len(v.Clips))
	for _, c := range v.Clips {
		size := "-"
		if info, err := os.Stat(c.OutputPath); err == nil {
			size = humanize.IBytes(uint64(info.Size()))
		}
		rows = append(rows, []string{
			strconv.Itoa(c.Index + 1),
			subtitles.FormatTimestamp(c.StartSeconds),
			subtitles.FormatTimestamp(c.EndSeconds),
			strconv.FormatFloat(c.Score, 'f', -1, 64),
			c.Title,
			yesNo(c.HasSubtitles),
			size,
			c.OutputPath,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Start", "End", "Score", "Title", "Subs", "Size", "File"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

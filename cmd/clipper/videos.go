package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
)

func newVideosCommand(ctx *commandContext) *cobra.Command {
	list := newVideosListCommand(ctx)
	cmd := &cobra.Command{
		Use:   "videos",
		Short: "Inspect and manage registered videos",
		RunE:  list.RunE,
	}
	cmd.AddCommand(list)
	cmd.AddCommand(newVideosShowCommand(ctx))
	cmd.AddCommand(newVideosDeleteCommand(ctx))
	return cmd
}

func newVideosListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered videos",
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

			videos, err := a.videos.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(videos) == 0 {
				fmt.Fprintln(out, "No videos registered")
				return nil
			}

			rows := make([][]string, 0, len(videos))
			for _, v := range videos {
				rows = append(rows, []string{
					v.ID,
					v.OriginalName,
					string(v.Status),
					humanize.IBytes(uint64(v.SizeBytes)),
					strconv.Itoa(len(v.Clips)),
					humanize.Time(v.CreatedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Name", "Status", "Size", "Clips", "Uploaded"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newVideosShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <video-id>",
		Short: "Show a video and its clips",
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

			v, err := a.videos.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), v)
			if v.Status == catalog.StatusFailed {
				fmt.Fprintf(cmd.OutOrStdout(), "Reason: %s\n", v.FailureReason)
			}
			return nil
		},
	}
}

func newVideosDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <video-id>",
		Short: "Delete a video, its clips and subtitle files",
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

			if err := a.videos.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

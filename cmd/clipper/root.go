package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-clipper/internal/config"
	"github.com/heimdex/heimdex-clipper/internal/logging"
)

type commandContext struct {
	configFlag *string

	once   sync.Once
	config *config.EnvConfig
	err    error
}

func (c *commandContext) ensureConfig() (*config.EnvConfig, error) {
	c.once.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.err = fmt.Errorf("failed to load config: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.err
}

// logger writes to stderr so offline commands keep stdout for their tables.
func (c *commandContext) logger() *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.New(os.Stderr, config.DefaultLogLevel, config.DefaultLogFormat)
	}
	return logging.New(os.Stderr, cfg.LogLevel(), cfg.LogFormat())
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "clipper",
		Short:         "Turn long videos into captioned portrait highlight clips",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfigLoad"] == "true" {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		// Without a subcommand the API server runs.
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (TOML)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newProcessCommand(ctx))
	rootCmd.AddCommand(newVideosCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

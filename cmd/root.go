// Package cmd defines the imagearchiver command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-image-archiver/internal/config"
	"github.com/JakeFAU/listing-image-archiver/internal/logging"
)

// NewRootCmd creates the root command and its subcommands.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "imagearchiver",
		Short: "Archive the photos of a marketplace listing into a zip download.",
		Long: `imagearchiver renders marketplace listing pages in a headless browser,
discovers the product photos, downloads them in parallel and packages them
into a short-lived zip archive.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd(&cfgFile))
	cmd.AddCommand(newExtractCmd(&cfgFile))
	return cmd
}

// bootstrap loads configuration and builds the process logger.
func bootstrap(cfgFile string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

func syncLogger(logger *zap.Logger) {
	// Sync on a console logger returns EINVAL on some platforms.
	_ = logger.Sync()
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-image-archiver/internal/archive"
)

func newExtractCmd(cfgFile *string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Archive one listing to a local zip file",
		Long: `extract runs a single extraction cycle without starting the HTTP service.
The archive is written to --out, or to <sanitized title>.zip in the current
directory when --out is empty.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), *cfgFile, args[0], out, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "destination zip file")
	return cmd
}

func runExtract(ctx context.Context, cfgFile, rawURL, out string, stdout io.Writer) error {
	cfg, logger, err := bootstrap(cfgFile)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	// The archive is copied out immediately, so nothing needs to outlive the
	// process.
	cfg.Storage.Backend = "memory"
	cfg.Session.Registry = "memory"

	comp, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := comp.Close(); cerr != nil {
			logger.Warn("release resources failed", zap.Error(cerr))
		}
	}()

	result, err := comp.service.Process(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("extract %s: %w", rawURL, err)
	}
	dl, err := comp.sessions.Open(ctx, result.SessionID)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer dl.Body.Close()

	if out == "" {
		out = dl.Filename
	}
	out, err = copyToFile(out, dl.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d images (%d failed) -> %s\n",
		result.Title, result.ImageCount, result.Failed, out)
	return nil
}

// copyToFile writes r to path via a temporary sibling so a failed copy never
// leaves a truncated archive behind.
func copyToFile(path string, r io.Reader) (string, error) {
	if filepath.Ext(path) == "" {
		path += archive.Extension
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".extract-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("move archive into place: %w", err)
	}
	return path, nil
}

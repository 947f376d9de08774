package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-image-archiver/internal/api"
	"github.com/JakeFAU/listing-image-archiver/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *cfgFile)
		},
	}
}

func runServe(parent context.Context, cfgFile string) error {
	cfg, logger, err := bootstrap(cfgFile)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comp, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := comp.Close(); cerr != nil {
			logger.Warn("release resources failed", zap.Error(cerr))
		}
	}()

	if err := comp.sessions.PurgeWorkDir(); err != nil {
		logger.Warn("purge stale work directories failed", zap.Error(err))
	}
	if n, err := comp.sessions.Active(ctx); err == nil {
		metrics.SetActiveSessions(n)
	}
	go comp.sessions.Run(ctx, cfg.SweepInterval())

	apiServer := api.NewServer(comp.service, comp.sessions, comp.clock, api.Options{
		Site:           cfg.Site.Name,
		StaticDir:      cfg.Server.StaticDir,
		RequestTimeout: cfg.RequestTimeout(),
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

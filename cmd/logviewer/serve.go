package main

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
	"golang.org/x/sync/errgroup"

	"logviewer/internal/api"
	"logviewer/internal/config"
	"logviewer/internal/files"
	"logviewer/internal/logging"
	"logviewer/internal/retention"
	"logviewer/internal/search"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the server in the foreground (the default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	search.Budget = cfg.Search.Budget
	search.MaxReturn = cfg.Search.MaxResults

	svc := files.New(files.Options{
		Root:         cfg.LogPath,
		Extensions:   cfg.FileExtensions,
		MaxFileBytes: cfg.MaxFileBytes,
		Logger:       logger,
	})
	if st := svc.CheckRoot(); !st.Exists || !st.IsDirectory {
		logger.ComponentWarn(logging.ComponentFiles, "log directory is not available yet",
			zap.String("path", cfg.LogPath), zap.String("error", st.Error))
	}

	cleaner := retention.NewCleaner(retention.CleanerOptions{
		Root:      cfg.LogPath,
		Retention: cfg.Cleanup.Retention(),
		DryRun:    cfg.Cleanup.DryRun,
		Logger:    logger,
		OnDeleted: func(retention.Result) { svc.Invalidate() },
	})
	var scheduler *retention.Scheduler
	if cfg.Cleanup.Enabled {
		scheduler = retention.NewScheduler(cleaner, logger)
	} else {
		logger.ComponentInfo(logging.ComponentCleanup, "automatic cleanup disabled")
	}

	apiServer := api.New(api.Options{
		Config:    cfg,
		Files:     svc,
		Cleaner:   cleaner,
		Scheduler: scheduler,
		Logger:    logger,
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.ComponentInfo(logging.ComponentServer, "logviewer listening",
			zap.String("addr", "http://"+cfg.Addr()),
			zap.String("log_path", cfg.LogPath),
			zap.Int("retention_days", cfg.Cleanup.RetentionDays),
			zap.Bool("auto_cleanup", cfg.Cleanup.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.ComponentInfo(logging.ComponentServer, "shutting down")
		apiServer.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	g.Go(func() error { return svc.Watch(gctx, files.DefaultDebounce, files.DefaultWatchRetry) })

	if scheduler != nil {
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	pidFile := cfg.PIDFile()
	if err := writePIDFile(pidFile, currentPID()); err != nil {
		logger.ComponentWarn(logging.ComponentServer, "could not write pid file",
			zap.String("path", pidFile), zap.Error(err))
	}
	defer removePIDFile(pidFile)

	return g.Wait()
}

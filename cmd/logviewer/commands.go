package main

import (
	"os"

	"github.com/spf13/cobra"

	"logviewer/internal/files"
	"logviewer/internal/logging"
	"logviewer/internal/retention"
)

func newCleanupCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete files older than the retention window now",
		Long:  "Runs one retention sweep over the log directory without a server and prints what was removed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			cleaner := retention.NewCleaner(retention.CleanerOptions{
				Root:      cfg.LogPath,
				Retention: cfg.Cleanup.Retention(),
				DryRun:    cfg.Cleanup.DryRun,
				Logger:    logger,
			})
			var res retention.Result
			if dryRun {
				res = cleaner.DryRun(cmd.Context(), retention.TriggerCLI)
			} else {
				res = cleaner.Run(cmd.Context(), retention.TriggerCLI)
			}
			renderCleanup(os.Stdout, res, cfg.LogPath, newStyles(colorEnabled()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	return cmd
}

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the log directory tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			svc := files.New(files.Options{
				Root:       cfg.LogPath,
				Extensions: cfg.FileExtensions,
				Logger:     logging.NewNop(),
			})
			tree, err := svc.Tree(cmd.Context())
			if err != nil {
				return err
			}
			renderTree(os.Stdout, tree, newStyles(colorEnabled()))
			return nil
		},
	}
}

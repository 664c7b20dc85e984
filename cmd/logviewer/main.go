package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"logviewer/internal/api"
	"logviewer/internal/config"
)

// flags holds command-line overrides; only flags the user actually set are
// applied on top of the file and environment layers.
type flags struct {
	configPath    string
	logPath       string
	host          string
	port          int
	retentionDays int
	noCleanup     bool
	cleanupDryRun bool
	logLevel      string
	logFormat     string
	logFile       string
	searchBudget  time.Duration
	searchMax     int
}

var opts flags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "logviewer",
		Short:         "Browse, search and tail a directory of log files",
		Long:          "logviewer serves a log directory over HTTP with a browser UI, JSON block detection,\nsearch, live tail and a daily retention cleanup.",
		Version:       api.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to a YAML config file (env LOGVIEWER_CONFIG)")
	pf.StringVar(&opts.logPath, "log-path", "", "directory of log files to serve (env LOG_PATH)")
	pf.StringVar(&opts.host, "host", "", "host interface to bind (env HOST)")
	pf.IntVar(&opts.port, "port", 0, "port to listen on (env PORT)")
	pf.IntVar(&opts.retentionDays, "retention-days", 0, "delete files older than this many days (env LOG_RETENTION_DAYS)")
	pf.BoolVar(&opts.noCleanup, "no-cleanup", false, "disable the daily cleanup (env ENABLE_AUTO_CLEANUP=false)")
	pf.BoolVar(&opts.cleanupDryRun, "cleanup-dry-run", false, "log what the daily cleanup would delete without deleting")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (env LOGVIEWER_LOG_LEVEL)")
	pf.StringVar(&opts.logFormat, "log-format", "", "console or json")
	pf.StringVar(&opts.logFile, "log-file", "", "also write JSON logs to this rotated file")
	pf.DurationVar(&opts.searchBudget, "search-budget", 0, "soft time budget for a search (default 350ms)")
	pf.IntVar(&opts.searchMax, "search-max", 0, "max hits returned by a search (default 200)")

	root.AddCommand(
		newServeCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newBrowseCmd(),
		newCleanupCmd(),
		newTreeCmd(),
	)
	return root
}

// resolveConfig layers defaults, the YAML file, the environment and finally
// any flags that were set explicitly.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	changed := cmd.Flags().Changed
	if changed("log-path") {
		cfg.LogPath = opts.logPath
	}
	if changed("host") {
		cfg.Host = opts.host
	}
	if changed("port") {
		cfg.Port = opts.port
	}
	if changed("retention-days") {
		cfg.Cleanup.RetentionDays = opts.retentionDays
	}
	if changed("no-cleanup") && opts.noCleanup {
		cfg.Cleanup.Enabled = false
	}
	if changed("cleanup-dry-run") {
		cfg.Cleanup.DryRun = opts.cleanupDryRun
	}
	if changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}
	if changed("log-file") {
		cfg.Logging.File = opts.logFile
	}
	if changed("search-budget") {
		cfg.Search.Budget = opts.searchBudget
	}
	if changed("search-max") {
		cfg.Search.MaxResults = opts.searchMax
	}
	if err := cfg.Finalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"logviewer/internal/config"
)

func currentPID() int { return os.Getpid() }

func writePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func readPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func removePIDFile(path string) {
	_ = os.Remove(path)
}

func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// signal 0 only checks existence
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// serveArgs rebuilds the command line for a background child so it sees the
// same configuration as the parent.
func serveArgs(cfg config.Config) []string {
	args := []string{"serve",
		"--log-path", cfg.LogPath,
		"--host", cfg.Host,
		"--port", strconv.Itoa(cfg.Port),
		"--retention-days", strconv.Itoa(cfg.Cleanup.RetentionDays),
		"--log-level", cfg.Logging.Level,
	}
	if opts.configPath != "" {
		args = append(args, "--config", opts.configPath)
	}
	if !cfg.Cleanup.Enabled {
		args = append(args, "--no-cleanup")
	}
	if cfg.Cleanup.DryRun {
		args = append(args, "--cleanup-dry-run")
	}
	if cfg.Logging.File != "" {
		args = append(args, "--log-file", cfg.Logging.File)
	}
	return args
}

func startBackground(cfg config.Config) error {
	pidFile := cfg.PIDFile()
	if pid, err := readPIDFile(pidFile); err == nil && isAlive(pid) {
		fmt.Printf("already running (pid %d)\n", pid)
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, serveArgs(cfg)...)
	if devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0); err == nil {
		defer devnull.Close()
		cmd.Stdout = devnull
		cmd.Stderr = devnull
	}
	// detach from our process group so terminal signals do not reach it
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	_ = writePIDFile(pidFile, cmd.Process.Pid)
	fmt.Printf("started pid %d on %s\n", cmd.Process.Pid, cfg.LoopbackURL())
	return cmd.Process.Release()
}

func stopBackground(cfg config.Config) error {
	pidFile := cfg.PIDFile()
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return errors.New("not running (no pid file)")
	}
	if !isAlive(pid) {
		removePIDFile(pidFile)
		return errors.New("not running")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return err
	}
	deadline := time.Now().Add(shutdownTimeout + time.Second)
	for time.Now().Before(deadline) {
		if !isAlive(pid) {
			removePIDFile(pidFile)
			fmt.Printf("stopped pid %d\n", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.New("stop timeout; process still alive")
}

// healthReport is the part of /api/health that status prints.
type healthReport struct {
	Status  string `json:"status"`
	LogPath struct {
		Path   string `json:"path"`
		Exists bool   `json:"exists"`
	} `json:"logPath"`
	Cleanup struct {
		Enabled       bool       `json:"enabled"`
		RetentionDays int        `json:"retentionDays"`
		NextRun       *time.Time `json:"nextRun"`
	} `json:"cleanup"`
	Version string `json:"version"`
}

func fetchHealth(baseURL string, timeout time.Duration) (*healthReport, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned %s", resp.Status)
	}
	var h healthReport
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &h, nil
}

func printStatus(cfg config.Config) error {
	st := newStyles(colorEnabled())
	pidFile := cfg.PIDFile()
	pid, err := readPIDFile(pidFile)
	if err != nil {
		fmt.Println(st.muted.Render("not running (no pid file)"))
		return nil
	}
	if !isAlive(pid) {
		fmt.Println(st.muted.Render(fmt.Sprintf("not running (stale pid file with pid %d)", pid)))
		removePIDFile(pidFile)
		return nil
	}
	url := cfg.LoopbackURL()
	h, err := fetchHealth(url, 500*time.Millisecond)
	if err != nil {
		fmt.Printf("%s running (pid %d) on %s, health check failed: %v\n", st.warn.Render("!"), pid, url, err)
		return nil
	}
	fmt.Printf("%s running (pid %d) on %s\n", st.ok.Render("●"), pid, url)
	fmt.Printf("  log path   %s", h.LogPath.Path)
	if !h.LogPath.Exists {
		fmt.Print(" " + st.warn.Render("(missing)"))
	}
	fmt.Println()
	if h.Cleanup.Enabled {
		line := fmt.Sprintf("  cleanup    every day, keep %d days", h.Cleanup.RetentionDays)
		if h.Cleanup.NextRun != nil {
			line += ", next " + h.Cleanup.NextRun.Local().Format("2006-01-02 15:04")
		}
		fmt.Println(line)
	} else {
		fmt.Println("  cleanup    " + st.muted.Render("disabled"))
	}
	return nil
}

// ensureServerRunning starts a background server if nothing answers on the
// configured port and waits for it to become healthy.
func ensureServerRunning(cfg config.Config) error {
	url := cfg.LoopbackURL()
	if _, err := fetchHealth(url, 300*time.Millisecond); err == nil {
		return nil
	}
	if err := startBackground(cfg); err != nil {
		return err
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := fetchHealth(url, 300*time.Millisecond); err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return errors.New("server did not become ready in time")
}

func openBrowser(url string) error {
	for _, opener := range []string{"open", "xdg-open"} {
		if p, _ := exec.LookPath(opener); p != "" {
			return exec.Command(p, url).Start()
		}
	}
	fmt.Printf("Open %s in your browser\n", url)
	return nil
}

func configured(run func(config.Config) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		return run(cfg)
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the server in the background",
		Args:  cobra.NoArgs,
		RunE:  configured(startBackground),
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background server",
		Args:  cobra.NoArgs,
		RunE:  configured(stopBackground),
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the background server",
		Args:  cobra.NoArgs,
		RunE: configured(func(cfg config.Config) error {
			_ = stopBackground(cfg)
			return startBackground(cfg)
		}),
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the background server is running",
		Args:  cobra.NoArgs,
		RunE:  configured(printStatus),
	}
}

func newBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Open the UI in a browser, starting the server if needed",
		Args:  cobra.NoArgs,
		RunE: configured(func(cfg config.Config) error {
			if err := ensureServerRunning(cfg); err != nil {
				return err
			}
			return openBrowser(cfg.LoopbackURL())
		}),
	}
}

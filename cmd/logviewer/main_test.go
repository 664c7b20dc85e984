package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logviewer/internal/files"
	"logviewer/internal/retention"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LOGVIEWER_CONFIG", "LOG_PATH", "HOST", "PORT", "LOG_RETENTION_DAYS", "ENABLE_AUTO_CLEANUP", "LOGVIEWER_LOG_LEVEL", "LOGVIEWER_STATE_DIR"} {
		t.Setenv(k, "")
	}
}

func TestResolveConfigPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "logviewer.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("port: 6000\nhost: 127.0.0.1\ncleanup:\n  retention_days: 30\n"), 0o644))
	t.Setenv("LOG_RETENTION_DAYS", "14")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", cfgFile, "--port", "9000", "--log-path", dir, "--no-cleanup"}))
	cfg, err := resolveConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port, "flag beats file")
	assert.Equal(t, "127.0.0.1", cfg.Host, "file beats default")
	assert.Equal(t, 14, cfg.Cleanup.RetentionDays, "env beats file")
	assert.False(t, cfg.Cleanup.Enabled)
	assert.Equal(t, dir, cfg.LogPath)
}

func TestResolveConfigRejectsInvalid(t *testing.T) {
	clearEnv(t)
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--retention-days", "0"}))
	_, err := resolveConfig(cmd)
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("LOG_RETENTION_DAYS", "seven")
	cmd = newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	_, err = resolveConfig(cmd)
	assert.ErrorContains(t, err, "LOG_RETENTION_DAYS")
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "logviewer.pid")
	_, err := readPIDFile(path)
	assert.Error(t, err)

	require.NoError(t, writePIDFile(path, os.Getpid()))
	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, isAlive(pid))
	assert.False(t, isAlive(0))

	removePIDFile(path)
	assert.NoFileExists(t, path)
}

func TestServeArgs(t *testing.T) {
	clearEnv(t)
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--log-path", "/var/log/app", "--port", "7000", "--no-cleanup"}))
	cfg, err := resolveConfig(cmd)
	require.NoError(t, err)

	args := strings.Join(serveArgs(cfg), " ")
	assert.True(t, strings.HasPrefix(args, "serve "))
	assert.Contains(t, args, "--log-path /var/log/app")
	assert.Contains(t, args, "--port 7000")
	assert.Contains(t, args, "--no-cleanup")
	assert.NotContains(t, args, "--config")
}

func TestRenderTree(t *testing.T) {
	mod := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	root := &files.Node{
		Name: "logs", Path: "/srv/logs", Type: files.TypeDirectory,
		Children: []*files.Node{
			{Name: "api", Path: "/srv/logs/api", Type: files.TypeDirectory, Children: []*files.Node{
				{Name: "req.json", Path: "/srv/logs/api/req.json", Type: files.TypeFile, Size: 2048, Modified: &mod},
			}},
			{Name: "app.log", Path: "/srv/logs/app.log", Type: files.TypeFile, Size: 10, Modified: &mod},
		},
	}

	var buf bytes.Buffer
	renderTree(&buf, root, newStyles(false))
	want := strings.Join([]string{
		"/srv/logs",
		"├── api/",
		"│   └── req.json  2.0 KB  2024-03-01 12:00",
		"└── app.log  10 B  2024-03-01 12:00",
		"2 files",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())

	buf.Reset()
	renderTree(&buf, nil, newStyles(false))
	assert.Equal(t, "(not a directory)\n", buf.String())
}

func TestRenderCleanup(t *testing.T) {
	var buf bytes.Buffer
	renderCleanup(&buf, retention.Result{
		RunID:   "run-1",
		Deleted: 1,
		DryRun:  true,
		Files:   []string{"/srv/logs/old.log"},
	}, "/srv/logs", newStyles(false))

	out := buf.String()
	assert.Contains(t, out, "1 files would be deleted")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "- /srv/logs/old.log")
	assert.NotContains(t, out, "errors")
}

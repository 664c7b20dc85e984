// Package config resolves the runtime configuration for logviewer.
//
// Values are layered: defaults, then an optional YAML file, then environment
// variables. Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	LogPath        string        `yaml:"log_path" validate:"required"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	FileExtensions []string      `yaml:"file_extensions" validate:"min=1,dive,startswith=."`
	MaxFileBytes   int64         `yaml:"max_file_bytes" validate:"gte=0"`
	StateDir       string        `yaml:"state_dir"`
	CORS           CORSConfig    `yaml:"cors"`
	Cleanup        CleanupConfig `yaml:"cleanup"`
	Tail           TailConfig    `yaml:"tail"`
	Search         SearchConfig  `yaml:"search"`
	Logging        LoggingConfig `yaml:"logging"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// CleanupConfig controls the retention sweep.
type CleanupConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days" validate:"min=1"`
	DryRun        bool `yaml:"dry_run"`
}

// Retention returns the retention window as a duration.
func (c CleanupConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// TailConfig controls live tailing over websockets.
type TailConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// SearchConfig bounds the cost of a single search request.
type SearchConfig struct {
	Budget     time.Duration `yaml:"budget" validate:"gt=0"`
	MaxResults int           `yaml:"max_results" validate:"min=1"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"` // debug, info, warn, error
	Format string `yaml:"format" validate:"oneof=console json"`         // json, console
	File   string `yaml:"file"`                                         // Empty for stdout only
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogPath:        "./logs",
		Host:           "0.0.0.0",
		Port:           5701,
		FileExtensions: []string{".log", ".txt", ".json", ".jsonl", ".out"},
		MaxFileBytes:   50 << 20,
		StateDir:       filepath.Join(os.TempDir(), "logviewer"),
		CORS:           CORSConfig{Origins: []string{"*"}},
		Cleanup:        CleanupConfig{Enabled: true, RetentionDays: 7},
		Tail:           TailConfig{PollInterval: 1500 * time.Millisecond},
		Search:         SearchConfig{Budget: 350 * time.Millisecond, MaxResults: 200},
		Logging:        LoggingConfig{Level: "info", Format: "console"},
	}
}

// DecodeStrict decodes YAML from a reader and rejects any unknown fields.
func DecodeStrict(r io.Reader, out interface{}) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load builds a Config from defaults, the YAML file at path (if non-empty) and
// the process environment.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = getenv("LOGVIEWER_CONFIG")
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config %s: %w", path, err)
		}
		err = DecodeStrict(f, &cfg)
		f.Close()
		if err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("LOG_PATH"); v != "" {
		cfg.LogPath = v
	}
	if v := getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := getenv("PORT"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PORT: %q is not a number", v)
		}
		cfg.Port = n
	}
	if v := getenv("LOG_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("LOG_RETENTION_DAYS: %q is not a number", v)
		}
		cfg.Cleanup.RetentionDays = n
	}
	// Only the literal "false" turns the scheduler off.
	if v := getenv("ENABLE_AUTO_CLEANUP"); v != "" {
		cfg.Cleanup.Enabled = v != "false"
	}
	if v := getenv("LOGVIEWER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := getenv("LOGVIEWER_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Finalize resolves paths and validates the configuration. It must be called
// after flag overrides are applied.
func (c *Config) Finalize() error {
	abs, err := filepath.Abs(c.LogPath)
	if err != nil {
		return fmt.Errorf("resolve log path: %w", err)
	}
	c.LogPath = filepath.Clean(abs)
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoopbackURL returns a URL that reaches the server from the local machine,
// preferring loopback when bound on a wildcard address.
func (c Config) LoopbackURL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" || host == ":" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// PIDFile is where a background server records its process id.
func (c Config) PIDFile() string {
	return filepath.Join(c.StateDir, fmt.Sprintf("logviewer-%d.pid", c.Port))
}

// Package config provides configuration management for the sticker agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort      = 8787
	DefaultLogLevel  = "info"
	DefaultDataDir   = ".sticker-agent"
	DefaultAPIURL    = "http://localhost:5000/api"
	DefaultFFprobe   = "ffprobe"
	DefaultEnvFile   = ".env"
	DownloadsDirName = "stickers"

	// Environment variable names
	EnvPort     = "STICKER_PORT"
	EnvLogLevel = "STICKER_LOG_LEVEL"
	EnvDataDir  = "STICKER_DATA_DIR"
	EnvAPIURL   = "STICKER_API_URL"
	EnvHeadless = "STICKER_HEADLESS"
	EnvWatchDir = "STICKER_WATCH_DIR"
	EnvFFprobe  = "STICKER_FFPROBE"

	EnvMetadataTimeout = "STICKER_METADATA_TIMEOUT"
	EnvRequestTimeout  = "STICKER_REQUEST_TIMEOUT"

	// Database filename
	DBFilename = "sticker-agent.db"

	DefaultMetadataTimeout = 30  // seconds
	DefaultRequestTimeout  = 120 // seconds
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	DownloadsDir() string
	APIURL() string
	Headless() bool
	WatchDir() string
	FFprobePath() string
	MetadataTimeout() time.Duration
	RequestTimeout() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	apiURL   string
	headless bool
	watchDir string
	ffprobe  string

	metadataTimeout time.Duration
	requestTimeout  time.Duration
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		apiURL:          DefaultAPIURL,
		ffprobe:         DefaultFFprobe,
		metadataTimeout: DefaultMetadataTimeout * time.Second,
		requestTimeout:  DefaultRequestTimeout * time.Second,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	// The base URL is resolved once here; a trailing slash would double up
	// when endpoint paths are appended.
	if u := os.Getenv(EnvAPIURL); u != "" {
		cfg.apiURL = strings.TrimRight(u, "/")
	}

	cfg.headless = parseBool(os.Getenv(EnvHeadless))
	cfg.watchDir = os.Getenv(EnvWatchDir)

	if fp := os.Getenv(EnvFFprobe); fp != "" {
		cfg.ffprobe = fp
	}

	var err error
	if cfg.metadataTimeout, err = secondsFromEnv(EnvMetadataTimeout, cfg.metadataTimeout); err != nil {
		return nil, err
	}
	if cfg.requestTimeout, err = secondsFromEnv(EnvRequestTimeout, cfg.requestTimeout); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are skipped. It returns the
// files that were loaded.
func LoadDotEnv(files ...string) ([]string, error) {
	var loaded []string
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("load %s: %w", f, err)
		}
		loaded = append(loaded, f)
	}
	return loaded, nil
}

// Port returns the control API port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// DownloadsDir is where stickers saved from the tray land.
func (c *EnvConfig) DownloadsDir() string {
	return filepath.Join(c.dataDir, DownloadsDirName)
}

// APIURL returns the Conversion Service base URL without a trailing slash.
func (c *EnvConfig) APIURL() string {
	return c.apiURL
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// WatchDir returns the drop folder, or "" when disabled.
func (c *EnvConfig) WatchDir() string {
	return c.watchDir
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobe
}

func (c *EnvConfig) MetadataTimeout() time.Duration {
	return c.metadataTimeout
}

func (c *EnvConfig) RequestTimeout() time.Duration {
	return c.requestTimeout
}

func secondsFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive number of seconds", key)
	}
	return time.Duration(n) * time.Second, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

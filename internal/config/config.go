// Package config provides configuration management for the ClipLab Agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".cliplab"

	// Environment variable names
	EnvPort       = "CLIPLAB_PORT"
	EnvLogLevel   = "CLIPLAB_LOG_LEVEL"
	EnvDataDir    = "CLIPLAB_DATA_DIR"
	EnvLibraryDir = "CLIPLAB_LIBRARY_DIR"
	EnvFFmpeg     = "CLIPLAB_FFMPEG"
	EnvFFprobe    = "CLIPLAB_FFPROBE"

	// Database filename
	DBFilename = "cliplab.db"

	// Export timeouts
	DefaultTransformTimeout = 30 * time.Minute
	DefaultProbeTimeout     = 30 * time.Second
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	LibraryDir() string
	PreviewCacheDir() string
	FFmpegPath() string
	FFprobePath() string
	TransformTimeout() time.Duration
	ProbeTimeout() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port       int
	logLevel   string
	dataDir    string
	libraryDir string
	ffmpeg     string
	ffprobe    string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:     DefaultPort,
		logLevel: DefaultLogLevel,
		dataDir:  defaultDataDir(),
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

	if ld := os.Getenv(EnvLibraryDir); ld != "" {
		cfg.libraryDir = ld
	}

	cfg.ffmpeg = os.Getenv(EnvFFmpeg)
	cfg.ffprobe = os.Getenv(EnvFFprobe)

	return cfg, nil
}

// Port returns the HTTP server port
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

// LibraryDir returns the directory holding exported videos and their
// provenance sidecars. Defaults to <dataDir>/library.
func (c *EnvConfig) LibraryDir() string {
	if c.libraryDir != "" {
		return c.libraryDir
	}
	return filepath.Join(c.dataDir, "library")
}

// PreviewCacheDir returns the directory for cached poster frames
func (c *EnvConfig) PreviewCacheDir() string {
	return filepath.Join(c.dataDir, "previews")
}

// FFmpegPath returns the configured ffmpeg binary, or empty for PATH lookup
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpeg
}

// FFprobePath returns the configured ffprobe binary, or empty for PATH lookup
func (c *EnvConfig) FFprobePath() string {
	return c.ffprobe
}

func (c *EnvConfig) TransformTimeout() time.Duration {
	return DefaultTransformTimeout
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return DefaultProbeTimeout
}

// defaultDataDir returns ~/.cliplab, falling back to the relative directory
// when the home directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

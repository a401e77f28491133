// Package config loads runbox service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable of the service. It is built once in main and
// shared read-only with every component.
type Config struct {
	// Server
	Port        string
	Environment string

	// Runtime tree
	PackagesRoot string

	// Sandbox
	SandboxHelperPath string
	UseSandbox        bool

	// Workspaces
	WorkspaceRoot string

	// Per-execution defaults and ceilings
	DefaultTimeLimit time.Duration
	MaxTimeLimit     time.Duration
	DefaultMemoryMB  int64
	MaxMemoryMB      int64
	DefaultProcesses int64
	MaxProcesses     int64

	// Request input ceilings
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
	MaxStdinBytes int64
	MaxArgs       int
	MaxNameLen    int

	// Output ceilings
	MaxStdoutBytes int64
	MaxStderrBytes int64

	// Child process ceilings beyond the request knobs
	MaxFDs             int64
	MaxOutputFileBytes int64

	// Kill cascade
	SigtermGrace time.Duration

	// History
	HistoryDBPath  string
	HistoryMaxRows int

	// API protection
	RateLimitRPS   float64
	RateLimitBurst int
	AuthJWTSecret  string
}

// Load builds a Config from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        envOr("PORT", "8080"),
		Environment: envOr("ENVIRONMENT", "development"),

		PackagesRoot: envOr("PACKAGES_ROOT", "/opt/runbox/packages"),

		SandboxHelperPath: envOr("SANDBOX_HELPER_PATH", "/usr/bin/bwrap"),
		UseSandbox:        envBool("USE_SANDBOX", true),

		WorkspaceRoot: envOr("WORKSPACE_ROOT", filepath.Join(os.TempDir(), "runbox-workspaces")),

		DefaultTimeLimit: envSeconds("DEFAULT_TIME_LIMIT", 10),
		MaxTimeLimit:     envSeconds("MAX_TIME_LIMIT", 60),
		DefaultMemoryMB:  envInt64("DEFAULT_MEMORY_MB", 256),
		MaxMemoryMB:      envInt64("MAX_MEMORY_MB", 1024),
		DefaultProcesses: envInt64("DEFAULT_PROCESSES", 16),
		MaxProcesses:     envInt64("MAX_PROCESSES", 128),

		MaxFiles:      envInt("MAX_FILES", 32),
		MaxFileBytes:  envInt64("MAX_FILE_BYTES", 1<<20),
		MaxTotalBytes: envInt64("MAX_TOTAL_BYTES", 4<<20),
		MaxStdinBytes: envInt64("MAX_STDIN_BYTES", 1<<20),
		MaxArgs:       envInt("MAX_ARGS", 64),
		MaxNameLen:    envInt("MAX_NAME_LEN", 255),

		MaxStdoutBytes: envInt64("MAX_STDOUT_BYTES", 1<<20),
		MaxStderrBytes: envInt64("MAX_STDERR_BYTES", 256<<10),

		MaxFDs:             envInt64("MAX_FDS", 256),
		MaxOutputFileBytes: envInt64("MAX_OUTPUT_FILE_BYTES", 16<<20),

		SigtermGrace: time.Duration(envInt64("SIGTERM_GRACE_MS", 300)) * time.Millisecond,

		HistoryDBPath:  envOr("HISTORY_DB_PATH", filepath.Join(os.TempDir(), "runbox-history.db")),
		HistoryMaxRows: envInt("HISTORY_MAX_ROWS", 1000),

		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),
		AuthJWTSecret:  os.Getenv("AUTH_JWT_SECRET"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxTimeLimit <= 0 {
		return fmt.Errorf("MAX_TIME_LIMIT must be positive")
	}
	if c.DefaultTimeLimit <= 0 || c.DefaultTimeLimit > c.MaxTimeLimit {
		return fmt.Errorf("DEFAULT_TIME_LIMIT must be in (0, MAX_TIME_LIMIT]")
	}
	if c.DefaultMemoryMB <= 0 || c.DefaultMemoryMB > c.MaxMemoryMB {
		return fmt.Errorf("DEFAULT_MEMORY_MB must be in (0, MAX_MEMORY_MB]")
	}
	if c.DefaultProcesses < 1 || c.DefaultProcesses > c.MaxProcesses {
		return fmt.Errorf("DEFAULT_PROCESSES must be in [1, MAX_PROCESSES]")
	}
	if c.MaxFiles < 1 {
		return fmt.Errorf("MAX_FILES must be at least 1")
	}
	if c.MaxStdoutBytes <= 0 || c.MaxStderrBytes <= 0 {
		return fmt.Errorf("output ceilings must be positive")
	}
	if c.SigtermGrace <= 0 {
		return fmt.Errorf("SIGTERM_GRACE_MS must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs with the production profile.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envSeconds(key string, fallback float64) time.Duration {
	return time.Duration(envFloat(key, fallback) * float64(time.Second))
}

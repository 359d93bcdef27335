// Package config holds CXE's typed configuration, loaded from an optional
// JSON file and then overlaid with CXE_-prefixed environment variables, in
// the same default-then-file-then-env order the rest of this codebase uses.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration for a CXE process.
type Config struct {
	Worker  WorkerConfig  `json:"worker"`
	Compile PhaseConfig   `json:"compile"`
	Run     RunConfig     `json:"run"`
	Cache   CacheConfig   `json:"cache"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
	TempDir string        `json:"tempDir"`
	Sandbox SandboxConfig `json:"sandbox"`

	// KeepWorkdir disables the worker's post-execution cleanup of each
	// submission's temp directory, for inspecting generated harness sources
	// and sandbox output while debugging an adapter.
	KeepWorkdir bool `json:"keepWorkdir"`
}

// WorkerConfig controls the worker pool.
type WorkerConfig struct {
	Count int `json:"count"`
}

// PhaseConfig is a per-phase wall-clock timeout.
type PhaseConfig struct {
	TimeoutSeconds int `json:"timeoutSeconds"`
}

// RunConfig controls the RUN phase's resource limits.
type RunConfig struct {
	TimeoutSeconds   int     `json:"timeoutSeconds"`
	MemoryLimitBytes int64   `json:"memoryLimitBytes"`
	CPUShare         float64 `json:"cpuShare"`
}

// CacheConfig selects and configures the Status Cache backend.
type CacheConfig struct {
	Backend   string `json:"backend"` // "memory" or "redis"
	TTLSecond int    `json:"ttlSeconds"`
	RedisAddr string `json:"redisAddr,omitempty"`
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "console" or "json"
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// SandboxConfig names the container image used per language.
type SandboxConfig struct {
	Images map[string]string `json:"images"`
}

// TTL returns the cache TTL as a time.Duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecond) * time.Second
}

// CompileTimeout returns the compile phase timeout as a time.Duration.
func (c Config) CompileTimeout() time.Duration {
	return time.Duration(c.Compile.TimeoutSeconds) * time.Second
}

// RunTimeout returns the run phase timeout as a time.Duration.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Run.TimeoutSeconds) * time.Second
}

// DefaultConfig returns CXE's out-of-the-box configuration: a five-worker
// pool, a 256MiB/0.5-core sandbox, and an in-process status cache.
func DefaultConfig() *Config {
	return &Config{
		Worker: WorkerConfig{Count: 5},
		Compile: PhaseConfig{
			TimeoutSeconds: 30,
		},
		Run: RunConfig{
			TimeoutSeconds:   10,
			MemoryLimitBytes: 256 * 1024 * 1024,
			CPUShare:         0.5,
		},
		Cache: CacheConfig{
			Backend:   "memory",
			TTLSecond: 3600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		TempDir: os.TempDir(),
		Sandbox: SandboxConfig{
			Images: map[string]string{
				"python": "python:3.12-slim",
				"go":     "golang:1.22-alpine",
			},
		},
	}
}

// LoadConfig builds a Config starting from defaults, optionally overlaying a
// JSON file at configPath, then applying environment variable overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	if val := os.Getenv("CXE_WORKER_COUNT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Worker.Count = n
		}
	}
	if val := os.Getenv("CXE_COMPILE_TIMEOUT_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Compile.TimeoutSeconds = n
		}
	}
	if val := os.Getenv("CXE_RUN_TIMEOUT_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Run.TimeoutSeconds = n
		}
	}
	if val := os.Getenv("CXE_RUN_MEMORY_LIMIT_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Run.MemoryLimitBytes = n
		}
	}
	if val := os.Getenv("CXE_RUN_CPU_SHARE"); val != "" {
		if n, err := strconv.ParseFloat(val, 64); err == nil {
			c.Run.CPUShare = n
		}
	}
	if val := os.Getenv("CXE_CACHE_BACKEND"); val != "" {
		c.Cache.Backend = val
	}
	if val := os.Getenv("CXE_CACHE_TTL_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.TTLSecond = n
		}
	}
	if val := os.Getenv("CXE_CACHE_REDIS_ADDR"); val != "" {
		c.Cache.RedisAddr = val
	}
	if val := os.Getenv("CXE_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("CXE_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}
	if val := os.Getenv("CXE_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv("CXE_TEMP_DIR"); val != "" {
		c.TempDir = val
	}
	if val := os.Getenv("CXE_KEEP_WORKDIR"); val != "" {
		c.KeepWorkdir = val == "true" || val == "1"
	}
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if c.Compile.TimeoutSeconds <= 0 {
		return fmt.Errorf("compile timeout must be positive")
	}
	if c.Run.TimeoutSeconds <= 0 {
		return fmt.Errorf("run timeout must be positive")
	}
	if c.Run.MemoryLimitBytes <= 0 {
		return fmt.Errorf("run memory limit must be positive")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("invalid cache backend: %s", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("redis cache backend requires cache.redisAddr")
	}
	if c.Cache.TTLSecond <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

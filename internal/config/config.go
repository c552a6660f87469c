// Package config handles configuration loading and management for Steward.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Steward.
type Config struct {
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Memory        MemoryConfig        `mapstructure:"memory"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Subprocess    SubprocessConfig    `mapstructure:"subprocess"`
	Agents        AgentsConfig        `mapstructure:"agents"`
	Logs          LogsConfig          `mapstructure:"logs"`
}

// OrchestrationConfig holds mode-detection and concurrency settings.
type OrchestrationConfig struct {
	// LocalEnabled allows in-process execution when local components are healthy.
	LocalEnabled bool `mapstructure:"local_enabled"`
	// MaxConcurrent limits delegations in flight at once.
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// MemoryConfig holds subprocess memory supervision settings.
type MemoryConfig struct {
	// WarningBytes is the usage level that triggers a warning log.
	WarningBytes uint64 `mapstructure:"warning_bytes"`
	// CriticalBytes is the usage level that triggers a critical log.
	CriticalBytes uint64 `mapstructure:"critical_bytes"`
	// MaxBytes is the usage level that triggers subprocess termination.
	MaxBytes uint64 `mapstructure:"max_bytes"`
	// SampleInterval is how often the sampler polls subprocess memory.
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// CacheConfig holds prompt cache settings.
type CacheConfig struct {
	// TTL is how long a rendered payload stays valid.
	TTL time.Duration `mapstructure:"ttl"`
	// MaxBytes caps the total resident payload size.
	MaxBytes int64 `mapstructure:"max_bytes"`
	// CriticalTargetFraction is the fraction of MaxBytes to evict down to
	// under critical pressure.
	CriticalTargetFraction float64 `mapstructure:"critical_target_fraction"`
}

// SubprocessConfig holds external worker settings.
type SubprocessConfig struct {
	// Command is the worker executable invoked per subprocess delegation.
	Command string `mapstructure:"command"`
	// Args are passed to the worker before the rendered payload on stdin.
	Args []string `mapstructure:"args"`
	// Timeout is the wall-clock deadline for one worker run.
	Timeout time.Duration `mapstructure:"timeout"`
	// GracePeriod is how long to wait between SIGTERM and SIGKILL.
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// AgentsConfig holds overrides for the three agent-definition directories.
// Empty values fall back to the standard locations.
type AgentsConfig struct {
	// ProjectDir is the project-local agent directory.
	ProjectDir string `mapstructure:"project_dir"`
	// UserDir is the per-user agent directory.
	UserDir string `mapstructure:"user_dir"`
	// SystemDir is the system-install agent directory.
	SystemDir string `mapstructure:"system_dir"`
}

// LogsConfig holds durable log settings.
type LogsConfig struct {
	// Dir is the directory for the memory-alert and subprocess-stats logs.
	Dir string `mapstructure:"dir"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (STEWARD_WORKER_COMMAND, STEWARD_LOCAL_ENABLED)
// 2. Project config (.steward.yaml in current directory or parent)
// 3. User config (~/.config/steward/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.BindEnv("subprocess.command", "STEWARD_WORKER_COMMAND")
	v.BindEnv("orchestration.local_enabled", "STEWARD_LOCAL_ENABLED")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that thresholds and limits are usable.
// Thresholds must be monotonic: warning < critical < max.
func (c *Config) Validate() error {
	m := c.Memory
	if m.WarningBytes == 0 || m.CriticalBytes <= m.WarningBytes || m.MaxBytes <= m.CriticalBytes {
		return fmt.Errorf("memory thresholds must satisfy 0 < warning < critical < max, got %d/%d/%d",
			m.WarningBytes, m.CriticalBytes, m.MaxBytes)
	}
	if m.SampleInterval <= 0 {
		return fmt.Errorf("memory sample_interval must be positive, got %s", m.SampleInterval)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache max_bytes must be positive, got %d", c.Cache.MaxBytes)
	}
	if c.Cache.CriticalTargetFraction <= 0 || c.Cache.CriticalTargetFraction >= 1 {
		return fmt.Errorf("cache critical_target_fraction must be in (0, 1), got %g",
			c.Cache.CriticalTargetFraction)
	}
	if c.Subprocess.Timeout <= 0 {
		return fmt.Errorf("subprocess timeout must be positive, got %s", c.Subprocess.Timeout)
	}
	return nil
}

// TierDirs returns the agent directories in precedence order
// (project, user, system), applying configured overrides.
func (c *Config) TierDirs() (project, user, system string) {
	project = c.Agents.ProjectDir
	if project == "" {
		project = filepath.Join(".steward", "agents")
	}
	user = c.Agents.UserDir
	if user == "" {
		user = filepath.Join(getUserConfigDir(), "agents")
	}
	system = c.Agents.SystemDir
	if system == "" {
		system = "/usr/local/share/steward/agents"
	}
	return project, user, system
}

// LogDir returns the directory for durable logs, defaulting to .steward/logs.
func (c *Config) LogDir() string {
	if c.Logs.Dir != "" {
		return c.Logs.Dir
	}
	return filepath.Join(".steward", "logs")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Orchestration defaults
	v.SetDefault("orchestration.local_enabled", false)
	v.SetDefault("orchestration.max_concurrent", 4)

	// Memory supervision defaults
	v.SetDefault("memory.warning_bytes", 1024*1024*1024)   // 1GB
	v.SetDefault("memory.critical_bytes", 1536*1024*1024)  // 1.5GB
	v.SetDefault("memory.max_bytes", 2048*1024*1024)       // 2GB
	v.SetDefault("memory.sample_interval", "2s")

	// Cache defaults
	v.SetDefault("cache.ttl", "300s")
	v.SetDefault("cache.max_bytes", 50*1024*1024) // 50MB
	v.SetDefault("cache.critical_target_fraction", 0.5)

	// Subprocess defaults
	v.SetDefault("subprocess.command", "steward-worker")
	v.SetDefault("subprocess.timeout", "15m")
	v.SetDefault("subprocess.grace_period", "5s")
}

// getUserConfigDir returns the XDG config directory for Steward.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "steward")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "steward")
	}
	return filepath.Join(home, ".config", "steward")
}

// findProjectConfig searches for .steward.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".steward.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Orchestration: OrchestrationConfig{
			LocalEnabled:  false,
			MaxConcurrent: 4,
		},
		Memory: MemoryConfig{
			WarningBytes:   1024 * 1024 * 1024,
			CriticalBytes:  1536 * 1024 * 1024,
			MaxBytes:       2048 * 1024 * 1024,
			SampleInterval: 2 * time.Second,
		},
		Cache: CacheConfig{
			TTL:                    300 * time.Second,
			MaxBytes:               50 * 1024 * 1024,
			CriticalTargetFraction: 0.5,
		},
		Subprocess: SubprocessConfig{
			Command:     "steward-worker",
			Timeout:     15 * time.Minute,
			GracePeriod: 5 * time.Second,
		},
	}
}

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show effective configuration",
	Long: `Display the effective configuration after merging defaults, the user
config, project overrides, and environment variables.

Without arguments, displays all configuration values.
With one argument (key), displays the value for that key.

Configuration is stored at ~/.config/steward/config.yaml
Project-specific overrides can be placed in .steward.yaml`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		if len(args) == 0 {
			displayAllConfig(cfg)
			return
		}
		displayConfigKey(cfg, args[0])
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("orchestration.local_enabled: %t\n", cfg.Orchestration.LocalEnabled)
	fmt.Printf("orchestration.max_concurrent: %d\n", cfg.Orchestration.MaxConcurrent)
	fmt.Printf("memory.warning_bytes: %d\n", cfg.Memory.WarningBytes)
	fmt.Printf("memory.critical_bytes: %d\n", cfg.Memory.CriticalBytes)
	fmt.Printf("memory.max_bytes: %d\n", cfg.Memory.MaxBytes)
	fmt.Printf("memory.sample_interval: %s\n", cfg.Memory.SampleInterval)
	fmt.Printf("cache.ttl: %s\n", cfg.Cache.TTL)
	fmt.Printf("cache.max_bytes: %d\n", cfg.Cache.MaxBytes)
	fmt.Printf("cache.critical_target_fraction: %g\n", cfg.Cache.CriticalTargetFraction)
	fmt.Printf("subprocess.command: %s\n", cfg.Subprocess.Command)
	fmt.Printf("subprocess.timeout: %s\n", cfg.Subprocess.Timeout)
	fmt.Printf("subprocess.grace_period: %s\n", cfg.Subprocess.GracePeriod)

	project, user, system := cfg.TierDirs()
	fmt.Printf("agents.project_dir: %s\n", project)
	fmt.Printf("agents.user_dir: %s\n", user)
	fmt.Printf("agents.system_dir: %s\n", system)
	fmt.Printf("logs.dir: %s\n", cfg.LogDir())
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	project, user, system := cfg.TierDirs()

	switch strings.ToLower(key) {
	case "orchestration.local_enabled":
		return strconv.FormatBool(cfg.Orchestration.LocalEnabled), nil
	case "orchestration.max_concurrent":
		return strconv.Itoa(cfg.Orchestration.MaxConcurrent), nil
	case "memory.warning_bytes":
		return strconv.FormatUint(cfg.Memory.WarningBytes, 10), nil
	case "memory.critical_bytes":
		return strconv.FormatUint(cfg.Memory.CriticalBytes, 10), nil
	case "memory.max_bytes":
		return strconv.FormatUint(cfg.Memory.MaxBytes, 10), nil
	case "memory.sample_interval":
		return cfg.Memory.SampleInterval.String(), nil
	case "cache.ttl":
		return cfg.Cache.TTL.String(), nil
	case "cache.max_bytes":
		return strconv.FormatInt(cfg.Cache.MaxBytes, 10), nil
	case "cache.critical_target_fraction":
		return strconv.FormatFloat(cfg.Cache.CriticalTargetFraction, 'g', -1, 64), nil
	case "subprocess.command":
		return cfg.Subprocess.Command, nil
	case "subprocess.timeout":
		return cfg.Subprocess.Timeout.String(), nil
	case "subprocess.grace_period":
		return cfg.Subprocess.GracePeriod.String(), nil
	case "agents.project_dir":
		return project, nil
	case "agents.user_dir":
		return user, nil
	case "agents.system_dir":
		return system, nil
	case "logs.dir":
		return cfg.LogDir(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

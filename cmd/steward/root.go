package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/executor"
	"github.com/stewardhq/steward/internal/orchestrator"
	"github.com/stewardhq/steward/internal/promptcache"
	"github.com/stewardhq/steward/internal/registry"
	"github.com/stewardhq/steward/internal/tracker"
	"github.com/stewardhq/steward/pkg/models"
)

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Multi-agent task delegation orchestrator",
	Long: `Steward routes delegation requests to specialized agents.

Agent definitions are resolved across three tiers with strict precedence
(project > user > system). Each delegation renders an instruction payload
from the agent's template and runs it through an external worker process
under memory and deadline supervision.

Core capabilities:
- Resolves agents from .steward/agents, the user config dir, and the
  system install dir
- Caches rendered prompts with TTL and memory-pressure eviction
- Supervises worker subprocess memory with threshold-based abort
- Tracks every delegation's lifecycle in a local SQLite database`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(delegateCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// newRegistry builds the tier registry from the effective config.
func newRegistry(cfg *config.Config) *registry.Registry {
	project, user, system := cfg.TierDirs()
	return registry.New([]registry.TierDir{
		{Tier: models.TierProject, Path: project},
		{Tier: models.TierUser, Path: user},
		{Tier: models.TierSystem, Path: system},
	})
}

// openTracker opens the project delegation database and migrates it.
func openTracker() (*tracker.DB, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	db, err := tracker.OpenProject(cwd)
	if err != nil {
		return nil, fmt.Errorf("open delegation database: %w", err)
	}
	return db, nil
}

// buildOrchestrator wires the full delegation pipeline from config.
// The caller owns the returned orchestrator and must Close it.
func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, error) {
	reg := newRegistry(cfg)
	if err := reg.Watch(); err != nil {
		return nil, fmt.Errorf("watch agent directories: %w", err)
	}

	db, err := openTracker()
	if err != nil {
		reg.Close()
		return nil, err
	}

	alerts, err := executor.NewAppendLog(filepath.Join(cfg.LogDir(), "memory-alerts.log"))
	if err != nil {
		reg.Close()
		db.Close()
		return nil, fmt.Errorf("open alert log: %w", err)
	}
	stats, err := executor.NewAppendLog(filepath.Join(cfg.LogDir(), "subprocess-stats.log"))
	if err != nil {
		reg.Close()
		db.Close()
		return nil, fmt.Errorf("open stats log: %w", err)
	}

	exec := executor.New(executor.Config{
		Command:        cfg.Subprocess.Command,
		Args:           cfg.Subprocess.Args,
		Timeout:        cfg.Subprocess.Timeout,
		GracePeriod:    cfg.Subprocess.GracePeriod,
		SampleInterval: cfg.Memory.SampleInterval,
	})
	exec.SetLogs(alerts, stats)

	cache := promptcache.New(promptcache.Options{
		TTL:                    cfg.Cache.TTL,
		MaxBytes:               cfg.Cache.MaxBytes,
		CriticalTargetFraction: cfg.Cache.CriticalTargetFraction,
	})

	return orchestrator.New(
		orchestrator.Required{
			Registry: reg,
			Tracker:  db,
			Runner:   exec,
		},
		orchestrator.WithCache(cache),
		orchestrator.WithMaxConcurrent(cfg.Orchestration.MaxConcurrent),
		orchestrator.WithThresholds(models.MemoryThresholds{
			Warning:  cfg.Memory.WarningBytes,
			Critical: cfg.Memory.CriticalBytes,
			Max:      cfg.Memory.MaxBytes,
		}),
	)
}

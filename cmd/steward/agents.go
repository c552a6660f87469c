package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/pkg/models"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List available agents",
	Long: `List every agent visible after tier precedence resolution.

An agent defined in more than one tier appears once, from the highest
precedence tier that defines it (project > user > system).`,
	RunE: runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := newRegistry(cfg)
	defer reg.Close()

	defs, err := reg.ListAll()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	if len(defs) == 0 {
		fmt.Println("No agents found. Add definitions under .steward/agents/.")
		return nil
	}

	for _, def := range defs {
		tierColor(def.Tier).Printf("%-20s", def.Name)
		fmt.Printf(" %-8s", def.Tier)
		if len(def.Capabilities) > 0 {
			fmt.Printf(" %s", strings.Join(def.Capabilities, ", "))
		}
		fmt.Println()
	}
	return nil
}

// tierColor maps a tier to its listing color.
func tierColor(tier models.Tier) *color.Color {
	switch tier {
	case models.TierProject:
		return color.New(color.FgGreen)
	case models.TierUser:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

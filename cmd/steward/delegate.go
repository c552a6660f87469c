package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/pkg/models"
)

var (
	delegateAgent        string
	delegateRequirements []string
	delegatePriority     string
	delegateContext      []string
	delegateDependsOn    []string
	delegateWorkflow     string
)

var delegateCmd = &cobra.Command{
	Use:   "delegate <task description>",
	Short: "Route a task to an agent",
	Long: `Submit a delegation request and wait for its terminal result.

The agent type is resolved across the project, user, and system tiers.
Context sections are passed as key=value pairs and narrowed to what the
agent is allowed to see before rendering its instruction template.

Examples:
  steward delegate --agent engineer "fix the flaky registry test"
  steward delegate --agent qa --priority high "verify the release build"
  steward delegate --agent reviewer --context diff="$(git diff)" "review my changes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelegate,
}

func init() {
	delegateCmd.Flags().StringVarP(&delegateAgent, "agent", "a", "", "Agent type to resolve (required)")
	delegateCmd.Flags().StringArrayVarP(&delegateRequirements, "requirement", "r", nil, "Requirement constraint (repeatable)")
	delegateCmd.Flags().StringVarP(&delegatePriority, "priority", "p", "medium", "Priority: low, medium, high, critical")
	delegateCmd.Flags().StringArrayVarP(&delegateContext, "context", "c", nil, "Context section as key=value (repeatable)")
	delegateCmd.Flags().StringArrayVar(&delegateDependsOn, "depends-on", nil, "Request id that must be terminal first (repeatable)")
	delegateCmd.Flags().StringVar(&delegateWorkflow, "workflow", "", "Parent workflow id grouping related requests")
	delegateCmd.MarkFlagRequired("agent")
}

func runDelegate(cmd *cobra.Command, args []string) error {
	priority := models.Priority(delegatePriority)
	if !priority.Valid() {
		return fmt.Errorf("invalid priority %q (expected low, medium, high, or critical)", delegatePriority)
	}

	bundle, err := parseContextPairs(delegateContext)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	orch, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}

	req := &models.DelegationRequest{
		AgentType:        delegateAgent,
		TaskDescription:  strings.Join(args, " "),
		Requirements:     delegateRequirements,
		Priority:         priority,
		ContextBundle:    bundle,
		ParentWorkflowID: delegateWorkflow,
		DependsOn:        delegateDependsOn,
	}

	result, err := orch.Delegate(context.Background(), req)
	if err != nil {
		orch.Close()
		return err
	}

	printResult(req, result)

	// Close before exiting so the watcher, database, and log handles are
	// released even on the failure exit code.
	orch.Close()
	if result.Status != models.StatusCompleted {
		os.Exit(1)
	}
	return nil
}

// parseContextPairs converts key=value flags into a context bundle.
func parseContextPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	bundle := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context pair %q (expected key=value)", pair)
		}
		bundle[key] = value
	}
	return bundle, nil
}

func printResult(req *models.DelegationRequest, result *models.DelegationResult) {
	fmt.Printf("Delegation: %s\n", req.ID)
	if result.AgentUsed != nil {
		fmt.Printf("  Agent: %s (%s tier)\n", result.AgentUsed.Name, result.AgentUsed.Tier)
	}
	fmt.Printf("  Status: %s\n", result.Status)
	fmt.Printf("  Duration: %dms\n", result.DurationMS)

	if result.Error != "" {
		fmt.Printf("  Error (%s): %s\n", result.ErrorKind, result.Error)
	}
	if result.Output != "" {
		fmt.Println()
		fmt.Println(result.Output)
	}
}

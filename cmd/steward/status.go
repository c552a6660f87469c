package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/tracker"
)

var statusWorkflow string

var statusCmd = &cobra.Command{
	Use:   "status [request-id]",
	Short: "Show delegation status",
	Long: `Display the lifecycle state of a delegation, and its result once
terminal.

With --workflow, lists every delegation in the workflow instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusWorkflow, "workflow", "", "List all delegations in a workflow")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusWorkflow == "" && len(args) == 0 {
		return errors.New("provide a request id or --workflow")
	}

	db, err := openTracker()
	if err != nil {
		return err
	}
	defer db.Close()

	if statusWorkflow != "" {
		return printWorkflow(db, statusWorkflow)
	}
	return printStatus(db, args[0])
}

func printStatus(db *tracker.DB, id string) error {
	state, err := db.Status(id)
	if err != nil {
		return err
	}

	fmt.Printf("Delegation: %s\n", id)
	fmt.Printf("  State: %s\n", state)

	if !state.Terminal() {
		return nil
	}

	result, err := db.Result(id)
	if err != nil {
		return fmt.Errorf("load result: %w", err)
	}
	if result.AgentUsed != nil {
		fmt.Printf("  Agent: %s (%s tier)\n", result.AgentUsed.Name, result.AgentUsed.Tier)
	}
	fmt.Printf("  Duration: %dms\n", result.DurationMS)
	if result.Error != "" {
		fmt.Printf("  Error (%s): %s\n", result.ErrorKind, result.Error)
	}
	return nil
}

func printWorkflow(db *tracker.DB, workflowID string) error {
	records, err := db.ListByWorkflow(workflowID)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Printf("No delegations in workflow %s.\n", workflowID)
		return nil
	}

	fmt.Printf("Workflow: %s\n", workflowID)
	for _, rec := range records {
		line := fmt.Sprintf("  %s  %-10s  %s", rec.Request.ID, rec.State, rec.Request.AgentType)
		if rec.Result != nil && rec.Result.Error != "" {
			line += fmt.Sprintf("  (%s)", rec.Result.ErrorKind)
		}
		fmt.Println(line)
	}
	return nil
}

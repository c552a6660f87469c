package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <request-id>",
	Short: "Cancel a pending delegation",
	Long: `Cancel a delegation that has not been dispatched yet.

Requests that were already dispatched or running cannot be canceled.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	db, err := openTracker()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Cancel(args[0]); err != nil {
		return err
	}
	fmt.Printf("Canceled %s\n", args[0])
	return nil
}

package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/legatus-hq/legatus/pkg/models"
)

var rejectCmd = &cobra.Command{
	Use:   "reject <checkpoint-id> [reason...]",
	Short: "Reject a pending checkpoint",
	Long: `Reject a pending checkpoint, sending the task back for another pass.

Everything after the checkpoint ID is recorded as the rejection reason
and handed to the agent on retry, so be specific about what to change.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReject,
}

func runReject(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	cp, err := resolveCheckpoint(cmd.Context(), client, args[0])
	if err != nil {
		return err
	}
	reason := strings.TrimSpace(strings.Join(args[1:], " "))

	body := struct {
		Reason string `json:"reason,omitempty"`
	}{Reason: reason}

	fmt.Printf("Rejecting: %s\n", cp.Title)
	var resolved models.Checkpoint
	if err := client.post(cmd.Context(), "/checkpoints/"+cp.ID+"/reject", body, &resolved); err != nil {
		return err
	}

	printStatus("✗", "Rejected. The work goes back for another pass.", color.FgYellow)
	if reason == "" {
		fmt.Println("Tip: pass a reason next time so the agent knows what to fix.")
	}
	return nil
}

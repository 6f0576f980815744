package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/legatus-hq/legatus/pkg/models"
)

var approveCmd = &cobra.Command{
	Use:   "approve [checkpoint-id]",
	Short: "Approve a pending checkpoint",
	Long: `Approve a pending checkpoint so the blocked task can proceed.

Without an argument the oldest pending checkpoint is approved. A
checkpoint ID (or unique prefix) selects a specific one; see
'legion status' for the list.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	ref := ""
	if len(args) > 0 {
		ref = args[0]
	}
	cp, err := resolveCheckpoint(cmd.Context(), client, ref)
	if err != nil {
		return err
	}

	fmt.Printf("Approving: %s\n", cp.Title)
	var resolved models.Checkpoint
	if err := client.post(cmd.Context(), "/checkpoints/"+cp.ID+"/approve", nil, &resolved); err != nil {
		return err
	}

	printStatus("✓", "Approved. Work resumes.", color.FgGreen)
	return nil
}

// resolveCheckpoint finds the pending checkpoint matching ref, which may be
// a full ID or a unique prefix. An empty ref selects the oldest pending one.
func resolveCheckpoint(ctx context.Context, client *apiClient, ref string) (*models.Checkpoint, error) {
	var pending []*models.Checkpoint
	if err := client.get(ctx, "/checkpoints", &pending); err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, fmt.Errorf("no pending checkpoints")
	}

	if ref == "" {
		return pending[0], nil
	}

	var matches []*models.Checkpoint
	for _, cp := range pending {
		if strings.HasPrefix(cp.ID, ref) {
			matches = append(matches, cp)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no pending checkpoint matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("checkpoint prefix %q is ambiguous (%d matches)", ref, len(matches))
	}
}

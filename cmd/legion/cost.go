package main

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/legatus-hq/legatus/pkg/models"
)

const costRecentEntries = 20

var costProject string

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show API spend for the project",
	Long: `Show what the agent team has spent on the current project,
broken down by agent role, with the most recent charges listed.`,
	RunE: runCost,
}

func init() {
	costCmd.Flags().StringVar(&costProject, "project", "", "Project to report on (default: current)")
}

func runCost(cmd *cobra.Command, args []string) error {
	project := costProject
	if project == "" {
		project = projectName()
	}

	path := "/costs"
	if project != "" {
		path += "?project_id=" + url.QueryEscape(project)
	}

	var breakdown models.CostBreakdown
	if err := newAPIClient().get(cmd.Context(), path, &breakdown); err != nil {
		return err
	}

	if breakdown.Total == 0 && len(breakdown.Entries) == 0 {
		fmt.Println("No costs recorded yet.")
		return nil
	}

	fmt.Println("Cost by role:")
	roles := make([]string, 0, len(breakdown.ByRole))
	for role := range breakdown.ByRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Printf("  %-10s $%.4f\n", role, breakdown.ByRole[role])
	}
	color.New(color.Bold).Printf("Total: $%.4f\n", breakdown.Total)

	if len(breakdown.Entries) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Println("Recent entries:")
	entries := breakdown.Entries
	if len(entries) > costRecentEntries {
		entries = entries[:costRecentEntries]
	}
	for _, e := range entries {
		fmt.Printf("  %s  %-10s %-10s $%.4f\n",
			e.Timestamp.Local().Format("Jan 02 15:04"), e.AgentRole, shortID(e.TaskID), e.Cost)
	}
	return nil
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/legatus-hq/legatus/pkg/models"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show finished tasks",
	Long:  `List tasks that reached a terminal state (done or rejected), newest first.`,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of tasks to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	var tasks []*models.Task
	path := fmt.Sprintf("/tasks/history?limit=%d", historyLimit)
	if err := newAPIClient().get(cmd.Context(), path, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No finished tasks yet.")
		return nil
	}

	for _, t := range tasks {
		icon := taskStatusColor(t.Status).Sprint(statusIcon(t.Status))
		age := formatDuration(time.Since(t.UpdatedAt))
		fmt.Printf("  %s %s  %-46s %s ago\n", icon, shortID(t.ID), truncate(t.Title, 46), age)
	}
	return nil
}

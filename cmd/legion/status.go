package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/legatus-hq/legatus/pkg/models"
)

const (
	watchInterval          = 2 * time.Second
	checkpointPreviewLines = 20
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agents, tasks, and pending checkpoints",
	Long: `Display the current state of the campaign.

Shows pending checkpoints first (they block progress until resolved),
then running agents, the task tree, and recent activity. Use --watch
to refresh the view every two seconds.`,
	RunE: runStatusCmd,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Refresh every 2 seconds")
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	client := newAPIClient()
	if !statusWatch {
		return renderStatus(cmd.Context(), client)
	}

	for {
		// Clear screen and move the cursor home between refreshes.
		fmt.Print("\033[2J\033[H")
		if err := renderStatus(cmd.Context(), client); err != nil {
			return err
		}
		fmt.Println()
		fmt.Println("Refreshing every 2s. Ctrl+C to exit.")

		select {
		case <-cmd.Context().Done():
			return nil
		case <-time.After(watchInterval):
		}
	}
}

func renderStatus(ctx context.Context, client *apiClient) error {
	var sys struct {
		Paused   bool `json:"paused"`
		Warnings []struct {
			Message string `json:"message"`
		} `json:"warnings"`
	}
	if err := client.get(ctx, "/system/status", &sys); err != nil {
		return err
	}

	var checkpoints []*models.Checkpoint
	if err := client.get(ctx, "/checkpoints", &checkpoints); err != nil {
		return err
	}
	var agents []*models.AgentRecord
	if err := client.get(ctx, "/agents", &agents); err != nil {
		return err
	}
	var tasks []*models.Task
	if err := client.get(ctx, "/tasks", &tasks); err != nil {
		return err
	}
	var logs []map[string]any
	if err := client.get(ctx, "/logs?limit=5", &logs); err != nil {
		return err
	}

	if sys.Paused {
		color.New(color.FgYellow, color.Bold).Println("DISPATCH PAUSED")
		fmt.Println("New tasks will queue until 'legion resume'.")
		fmt.Println()
	}
	for _, w := range sys.Warnings {
		printStatus("⚠", w.Message, color.FgYellow)
	}
	if len(sys.Warnings) > 0 {
		fmt.Println()
	}

	renderCheckpoints(checkpoints)
	renderAgents(agents)
	renderTasks(tasks)
	renderActivity(logs)
	return nil
}

func renderCheckpoints(checkpoints []*models.Checkpoint) {
	if len(checkpoints) == 0 {
		return
	}

	banner := color.New(color.FgYellow, color.Bold)
	banner.Printf("=== %d checkpoint(s) awaiting your decision ===\n\n", len(checkpoints))

	for _, cp := range checkpoints {
		role := string(cp.SourceRole)
		if role == "" {
			role = "system"
		}
		fmt.Printf("[%s] %s  (id: %s)\n", role, cp.Title, shortID(cp.ID))

		lines := strings.Split(strings.TrimRight(cp.Description, "\n"), "\n")
		for i, line := range lines {
			if i >= checkpointPreviewLines {
				fmt.Println("      ...")
				break
			}
			fmt.Printf("      %s\n", line)
		}
		fmt.Println()
	}

	fmt.Println(`Resolve with: legion approve   or   legion reject <id> "reason"`)
	fmt.Println()
}

func renderAgents(agents []*models.AgentRecord) {
	fmt.Println("Agents:")
	if len(agents) == 0 {
		fmt.Println("  none running")
		fmt.Println()
		return
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	for _, a := range agents {
		status := agentStatusColor(a.Status).Sprintf("%-9s", a.Status)

		uptime := ""
		if a.StartedAt != nil {
			uptime = fmt.Sprintf("(%s)", formatDuration(time.Since(*a.StartedAt)))
		}
		taskRef := ""
		if a.TaskID != "" {
			taskRef = "task " + shortID(a.TaskID)
		}
		fmt.Printf("  %-22s %-10s %s %-14s %s\n", a.ID, a.Role, status, taskRef, uptime)

		if a.Error != "" {
			printStatus("  ✗", a.Error, color.FgRed)
		}
	}
	fmt.Println()
}

func renderTasks(tasks []*models.Task) {
	fmt.Println("Tasks:")
	if len(tasks) == 0 {
		fmt.Println("  none yet. Run 'legion start \"<prompt>\"' to begin.")
		fmt.Println()
		return
	}

	byID := make(map[string]*models.Task, len(tasks))
	var roots []*models.Task
	for _, t := range tasks {
		byID[t.ID] = t
		if t.ParentID == "" {
			roots = append(roots, t)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].CreatedAt.Before(roots[j].CreatedAt) })

	for _, root := range roots {
		printTaskLine(root, "")
		for _, subID := range root.SubtaskIDs {
			if sub, ok := byID[subID]; ok {
				printTaskLine(sub, "|-- ")
			}
		}
	}
	fmt.Println()
}

func printTaskLine(t *models.Task, indent string) {
	icon := taskStatusColor(t.Status).Sprint(statusIcon(t.Status))
	agent := ""
	if t.AssignedTo != "" {
		agent = t.AssignedTo
	}
	fmt.Printf("  %s%s %s  %-46s %-9s %s\n",
		indent, icon, shortID(t.ID), truncate(t.Title, 46), t.Status, agent)
}

func renderActivity(logs []map[string]any) {
	if len(logs) == 0 {
		return
	}
	fmt.Println("Recent activity:")
	// The server returns newest first; show oldest first so the feed reads down.
	for i := len(logs) - 1; i >= 0; i-- {
		fmt.Printf("  %s\n", formatLogEntry(logs[i]))
	}
}

// statusIcon maps a task status to its two-character list marker.
func statusIcon(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusCreated:
		return "[ ]"
	case models.TaskStatusPlanned:
		return "[.]"
	case models.TaskStatusActive:
		return "[>]"
	case models.TaskStatusReview:
		return "[?]"
	case models.TaskStatusTesting:
		return "[~]"
	case models.TaskStatusBlocked:
		return "[!]"
	case models.TaskStatusRejected:
		return "[x]"
	case models.TaskStatusDone:
		return "[v]"
	default:
		return "[ ]"
	}
}

func taskStatusColor(status models.TaskStatus) *color.Color {
	switch status {
	case models.TaskStatusActive:
		return color.New(color.FgGreen)
	case models.TaskStatusReview, models.TaskStatusTesting:
		return color.New(color.FgYellow)
	case models.TaskStatusBlocked:
		return color.New(color.FgYellow, color.Bold)
	case models.TaskStatusRejected:
		return color.New(color.FgRed)
	case models.TaskStatusDone:
		return color.New(color.FgGreen, color.Bold)
	default:
		return color.New(color.FgHiBlack)
	}
}

func agentStatusColor(status models.AgentStatus) *color.Color {
	switch status {
	case models.AgentStatusActive:
		return color.New(color.FgGreen)
	case models.AgentStatusStarting, models.AgentStatusStopping:
		return color.New(color.FgYellow)
	case models.AgentStatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgHiBlack)
	}
}

// shortID returns the first eight characters of an ID for display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dh", h)
}

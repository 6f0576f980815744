package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/legatus-hq/legatus/pkg/models"
)

var (
	startSpecFile string
	startProject  string
	startDirect   bool
)

var startCmd = &cobra.Command{
	Use:   "start [prompt]",
	Short: "Start a new campaign",
	Long: `Start a new campaign from a prompt.

The orchestrator spawns a PM agent that decomposes the prompt into
sub-tasks and proposes a plan for your approval. Use --direct to skip
planning and hand the prompt straight to a single dev agent.

The prompt can be given inline or read from a file with --spec.`,
	Args: cobra.ArbitraryArgs,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&startSpecFile, "spec", "s", "", "Read the prompt from a file")
	startCmd.Flags().StringVar(&startProject, "project", "", "Project name for memory and cost scoping")
	startCmd.Flags().BoolVar(&startDirect, "direct", false, "Skip planning, dispatch a single dev agent")
}

func runStart(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if startSpecFile != "" {
		data, err := os.ReadFile(startSpecFile)
		if err != nil {
			return fmt.Errorf("reading spec file: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return fmt.Errorf("provide a prompt or a --spec file")
	}

	project := startProject
	if project == "" {
		project = projectName()
	}

	body := struct {
		Prompt  string `json:"prompt"`
		Project string `json:"project,omitempty"`
		Direct  bool   `json:"direct,omitempty"`
	}{Prompt: prompt, Project: project, Direct: startDirect}

	var task models.Task
	if err := newAPIClient().post(cmd.Context(), "/tasks", body, &task); err != nil {
		return err
	}

	printStatus("✓", fmt.Sprintf("Task created: %s", task.ID), color.FgGreen)
	fmt.Printf("  Title:  %s\n", task.Title)
	fmt.Printf("  Status: %s\n", task.Status)
	if task.AssignedTo != "" {
		fmt.Printf("  Agent:  %s\n", task.AssignedTo)
	}
	fmt.Println()
	fmt.Println("Monitor with:")
	fmt.Println("  legion status --watch")
	fmt.Println("  legion logs -f")
	return nil
}

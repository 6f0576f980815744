package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Set up a project for the agent team",
	Long: `Set up a directory for use with legion.

Creates the .agent-team/ structure:
  config.yaml   project name and orchestrator URL
  tasks/        specs you want agents to pick up
  memory/       exported memory snapshots

The directory argument is optional and defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInitCmd,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
}

func runInitCmd(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	teamDir := filepath.Join(absPath, ".agent-team")
	if _, err := os.Stat(teamDir); err == nil && !initForce {
		fmt.Println("Already initialized. Use --force to reinitialize.")
		return nil
	}

	for _, dir := range []string{teamDir, filepath.Join(teamDir, "tasks"), filepath.Join(teamDir, "memory")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .agent-team/ directory structure", color.FgGreen)

	configPath := filepath.Join(teamDir, "config.yaml")
	config := fmt.Sprintf(`# Legion project configuration
project:
  name: %s

orchestrator:
  url: %s
`, filepath.Base(absPath), defaultOrchestratorURL)

	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	printStatus("✓", "Wrote .agent-team/config.yaml", color.FgGreen)

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  legion start \"describe what you want built\"")
	fmt.Println("  legion status --watch")
	return nil
}

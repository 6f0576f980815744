package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "legion",
	Short: "Multi-agent software engineering orchestration",
	Long: `Legion drives a team of ephemeral AI agents through the legatus
orchestrator: a PM decomposes your request into sub-tasks, dev agents
implement them in isolated git worktrees, and reviewer/QA agents gate the
results before branches merge back.

Typical flow:
  legion init                       # set up .agent-team/ in your project
  legion start "add rate limiting"  # kick off a campaign
  legion status --watch             # watch agents work
  legion approve                    # sign off on the plan
  legion logs -f                    # stream activity live`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(costCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

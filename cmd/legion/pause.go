package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause task dispatch",
	Long: `Pause the orchestrator's dispatch loop.

Running agents finish their current task, but no new work is handed
out until you run 'legion resume'. Useful before stepping away or when
a plan needs rethinking.`,
	RunE: runPause,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume task dispatch",
	Long:  `Resume the dispatch loop after a pause. Queued tasks start immediately.`,
	RunE:  runResume,
}

func runPause(cmd *cobra.Command, args []string) error {
	if err := newAPIClient().post(cmd.Context(), "/system/pause", nil, nil); err != nil {
		return err
	}
	printStatus("⚠", "Dispatch paused.", color.FgYellow)
	fmt.Println("Resume with 'legion resume'.")
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	if err := newAPIClient().post(cmd.Context(), "/system/resume", nil, nil); err != nil {
		return err
	}
	printStatus("✓", "Dispatch resumed.", color.FgGreen)
	return nil
}

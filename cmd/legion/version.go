package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/legatus-hq/legatus/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("legion version %s\n", version.GitCommit)
	},
}

package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	memorySearchLimit int
	memoryGlobal      bool
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect what the agents remember",
	Long: `Inspect and manage the shared memory agents build up while working:
project conventions, decisions, gotchas. Memories are scoped per
project, with a global namespace for cross-project knowledge.`,
}

var memoryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored memories",
	RunE:  runMemoryShow,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories semantically",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemorySearch,
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget <memory-id>",
	Short: "Delete one memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryForget,
}

var memoryExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump project and global memories as JSON",
	RunE:  runMemoryExport,
}

func init() {
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryForgetCmd)
	memoryCmd.AddCommand(memoryExportCmd)

	memoryCmd.PersistentFlags().BoolVar(&memoryGlobal, "global", false, "Use the global namespace instead of the project's")
	memorySearchCmd.Flags().IntVarP(&memorySearchLimit, "limit", "n", 10, "Maximum results")
}

// memoryQuery builds the scope query string shared by the memory routes.
func memoryQuery() string {
	q := url.Values{}
	if memoryGlobal {
		q.Set("namespace", "global")
	} else if p := projectName(); p != "" {
		q.Set("project_id", p)
	}
	return q.Encode()
}

func runMemoryShow(cmd *cobra.Command, args []string) error {
	path := "/memory"
	if q := memoryQuery(); q != "" {
		path += "?" + q
	}

	var records []map[string]any
	if err := newAPIClient().get(cmd.Context(), path, &records); err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No memories stored.")
		return nil
	}

	for _, rec := range records {
		printMemory(rec)
	}
	return nil
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("query", strings.Join(args, " "))
	q.Set("limit", fmt.Sprintf("%d", memorySearchLimit))
	if memoryGlobal {
		q.Set("namespace", "global")
	} else if p := projectName(); p != "" {
		q.Set("project_id", p)
	}

	var records []map[string]any
	if err := newAPIClient().get(cmd.Context(), "/memory/search?"+q.Encode(), &records); err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	for _, rec := range records {
		printMemory(rec)
	}
	return nil
}

func runMemoryForget(cmd *cobra.Command, args []string) error {
	var resp struct {
		Deleted string `json:"deleted"`
	}
	if err := newAPIClient().del(cmd.Context(), "/memory/"+url.PathEscape(args[0]), &resp); err != nil {
		return err
	}
	printStatus("✓", "Memory deleted.", color.FgGreen)
	return nil
}

func runMemoryExport(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	fetch := func(query string) ([]map[string]any, error) {
		path := "/memory"
		if query != "" {
			path += "?" + query
		}
		var records []map[string]any
		if err := client.get(cmd.Context(), path, &records); err != nil {
			return nil, err
		}
		if records == nil {
			records = []map[string]any{}
		}
		return records, nil
	}

	projectQuery := url.Values{}
	if p := projectName(); p != "" {
		projectQuery.Set("project_id", p)
	}
	project, err := fetch(projectQuery.Encode())
	if err != nil {
		return err
	}
	global, err := fetch("namespace=global")
	if err != nil {
		return err
	}

	out := map[string]any{"project": project, "global": global}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// printMemory renders one record, tolerating the service's loose schema.
func printMemory(rec map[string]any) {
	text, _ := rec["memory"].(string)
	if text == "" {
		text, _ = rec["text"].(string)
	}
	id, _ := rec["id"].(string)

	if id != "" {
		fmt.Printf("  - %s  (%s)\n", text, shortID(id))
	} else {
		fmt.Printf("  - %s\n", text)
	}
}

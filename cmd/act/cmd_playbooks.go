package main

// ---------------------------------------------------------------------------
// cmd_playbooks.go - list loaded playbooks
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ngsoc/act/internal/core"
	"github.com/spf13/cobra"
)

var (
	playbooksDir  string
	playbooksJSON bool
)

var playbooksCmd = &cobra.Command{
	Use:     "playbooks",
	Aliases: []string{"ls"},
	Short:   "List playbooks in the playbook directory",
	Args:    cobra.NoArgs,
	RunE:    runPlaybooks,
}

func init() {
	rootCmd.AddCommand(playbooksCmd)

	playbooksCmd.Flags().StringVar(&playbooksDir, "dir", "", "playbook directory (default from config)")
	playbooksCmd.Flags().BoolVar(&playbooksJSON, "json", false, "print as JSON")
}

type playbookRow struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	Start    string   `json:"start"`
	Blocks   int      `json:"blocks"`
	Warnings []string `json:"warnings,omitempty"`
}

func runPlaybooks(_ *cobra.Command, _ []string) error {
	dir, err := playbookDir(playbooksDir)
	if err != nil {
		return err
	}
	store, err := core.LoadPlaybookStore(dir, cliLogger("error"))
	if err != nil {
		return err
	}

	rows := make([]playbookRow, 0, store.Count())
	for _, name := range store.Names() {
		pb, _ := store.Get(name)
		rows = append(rows, playbookRow{
			Name:     name,
			Title:    pb.Name,
			Start:    pb.Workflow.Start,
			Blocks:   len(pb.Workflow.Blocks),
			Warnings: store.Warnings(name),
		})
	}

	if playbooksJSON {
		return printJSON(os.Stdout, rows)
	}

	table := NewTable(os.Stdout, "NAME", "TITLE", "START", "BLOCKS", "WARNINGS")
	for _, r := range rows {
		table.AddRow(r.Name, truncate(r.Title, 40), r.Start, strconv.Itoa(r.Blocks), strconv.Itoa(len(r.Warnings)))
	}
	table.Render()

	for _, le := range store.LoadErrors() {
		warnf("skipped %s: %v", le.Path, le.Err)
	}
	fmt.Fprintf(os.Stdout, "%d playbook(s) in %s\n", store.Count(), dir)
	return nil
}

package main

// ---------------------------------------------------------------------------
// cmd_validate.go - check every playbook document in a directory
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ngsoc/act/internal/core"
	"github.com/spf13/cobra"
)

var (
	validateDir    string
	validateStrict bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate playbook documents",
	Long: `Parse and validate every .json, .yaml and .yml file in the playbook
directory. Structural warnings (undefined next blocks, cycles on the
traversal path) are reported; with --strict they count as failures.`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		dir, err := playbookDir(validateDir)
		if err != nil {
			return err
		}
		failed, err := validatePlaybookDir(os.Stdout, dir, validateStrict)
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d playbook(s) failed validation", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateDir, "dir", "", "playbook directory (default from config)")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "treat warnings as failures")
}

// validatePlaybookDir reports each document to w and returns how many failed.
func validatePlaybookDir(w io.Writer, dir string, strict bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading playbook directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			if !e.IsDir() {
				files = append(files, e.Name())
			}
		}
	}
	sort.Strings(files)

	failed := 0
	for _, name := range files {
		pb, err := core.ReadPlaybookFile(filepath.Join(dir, name))
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s %s: %v\n", red("✗"), name, err)
			continue
		}

		warnings := core.LintPlaybook(pb)
		switch {
		case len(warnings) == 0:
			fmt.Fprintf(w, "%s %s\n", green("✓"), name)
		case strict:
			failed++
			fmt.Fprintf(w, "%s %s\n", red("✗"), name)
		default:
			fmt.Fprintf(w, "%s %s\n", yellow("⚠"), name)
		}
		for _, warning := range warnings {
			fmt.Fprintf(w, "    %s\n", dim(warning))
		}
	}

	fmt.Fprintf(w, "%d file(s) checked, %d failed\n", len(files), failed)
	return failed, nil
}

package main

// ---------------------------------------------------------------------------
// cmd_run.go - execute one playbook locally and print its trace
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ngsoc/act/internal/core"
	"github.com/spf13/cobra"
)

var (
	runParams   []string
	runDir      string
	runStrict   bool
	runJSON     bool
	runLogLevel string
)

var runCmd = &cobra.Command{
	Use:   "run <playbook>",
	Short: "Execute a playbook locally",
	Long: `Walk a playbook from its start block, rendering each command with the
given parameters. Nothing is executed on the host; the trace is printed.

Examples:
  act run response --param host=10.0.0.5
  act run recovery --param host=db-01 --dir ./playbooks --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "template parameter as key=value (repeatable)")
	runCmd.Flags().StringVar(&runDir, "dir", "", "playbook directory (default from config)")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "fail on placeholders with no parameter")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the trace as JSON")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "warn", "log level for execution logs")
}

func runRun(_ *cobra.Command, args []string) error {
	params, err := parseParams(runParams)
	if err != nil {
		return err
	}
	dir, err := playbookDir(runDir)
	if err != nil {
		return err
	}

	logger := cliLogger(runLogLevel)
	store, err := core.LoadPlaybookStore(dir, logger)
	if err != nil {
		return err
	}

	executor := core.NewWorkflowExecutor(logger, store, core.Renderer{Strict: runStrict})
	trace, execErr := executor.Execute(args[0], params)
	if trace == nil {
		return execErr
	}

	if runJSON {
		if err := printJSON(os.Stdout, trace); err != nil {
			return err
		}
	} else {
		printTrace(os.Stdout, trace)
	}
	return execErr
}

func printTrace(w io.Writer, trace *core.ExecutionTrace) {
	fmt.Fprintf(w, "%s %s  %s\n", bold("Playbook"), trace.Playbook, dim(trace.ID))

	table := NewTable(w, "#", "BLOCK", "DESCRIPTION", "COMMAND")
	for i, step := range trace.Steps {
		table.AddRow(strconv.Itoa(i+1), step.Block, truncate(step.Description, 40), step.Command)
	}
	table.Render()

	status := green(trace.Status)
	if trace.Status != core.ExecutionCompleted {
		status = red(trace.Status)
	}
	fmt.Fprintf(w, "%s %s in %s\n", bold("Status"), status, trace.FinishedAt.Sub(trace.StartedAt))
}

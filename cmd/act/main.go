package main

// ---------------------------------------------------------------------------
// main.go - root command for the act CLI
//
// Command implementations live in cmd_*.go. Shared helpers are in
// helpers.go, http.go and output.go.
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version   = "0.3.0"
	commit    = "dev"
	buildDate = "unknown"
)

var (
	cfgFile string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "act",
	Short: "Playbook-driven mitigation engine",
	Long: `act runs CACAO-style response playbooks against alert targets.

Alerts arrive over HTTP (or the NATS bus), a mitigation is chosen either by
the alert itself or by an external recommender, and the matching playbook is
walked block by block with every rendered command written to the audit log.`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file (or $ACT_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}

package main

// ---------------------------------------------------------------------------
// cmd_status.go - query a running engine
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running engine",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		body, err := apiGet(apiBase()+"/api/v1/status", 5*time.Second)
		if err != nil {
			return err
		}

		var status map[string]interface{}
		if err := json.Unmarshal(body, &status); err != nil {
			return fmt.Errorf("decoding status: %w", err)
		}
		if statusJSON {
			return printJSON(os.Stdout, status)
		}

		fmt.Fprintf(os.Stdout, "%s %v\n", bold("Status:      "), green(status["status"]))
		fmt.Fprintf(os.Stdout, "%s %v (%v)\n", bold("Playbooks:   "), status["playbooks"], status["playbook_dir"])
		fmt.Fprintf(os.Stdout, "%s %v\n", bold("Acknowledged:"), status["acknowledged"])
		fmt.Fprintf(os.Stdout, "%s %v\n", bold("Recommender: "), status["recommender"])
		fmt.Fprintf(os.Stdout, "%s %v\n", bold("Bus:         "), status["bus_connected"])
		fmt.Fprintf(os.Stdout, "%s %vs\n", bold("Uptime:      "), status["uptime_seconds"])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print as JSON")
}

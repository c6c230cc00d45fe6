package main

// ---------------------------------------------------------------------------
// cmd_ack.go - acknowledge an alert on a running engine
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"

	"github.com/ngsoc/act/internal/core"
	"github.com/spf13/cobra"
)

var (
	ackAnalyst string
	ackURL     string
)

var ackCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert via POST /acknowledge",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		url := ackURL
		if url == "" {
			url = apiBase() + "/acknowledge"
		}
		req := map[string]string{"alert_id": args[0], "analyst": ackAnalyst}

		var ack core.Acknowledgement
		if err := apiPostJSON(url, req, &ack, defaultHTTPTimeout); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s %s %s by %s\n", green("✓"), ack.AlertID, ack.Status, ack.Analyst)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ackCmd)

	ackCmd.Flags().StringVar(&ackAnalyst, "analyst", os.Getenv("USER"), "analyst name")
	ackCmd.Flags().StringVar(&ackURL, "url", "", "acknowledge URL (default from config)")
}

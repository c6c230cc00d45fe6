package main

// ---------------------------------------------------------------------------
// cmd_apply.go - submit an alert to a running engine
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ngsoc/act/internal/core"
	"github.com/spf13/cobra"
)

var (
	applySource     string
	applySeverity   int
	applyMitigation string
	applyURL        string
	applyJSON       bool
	applyBus        bool
)

var applyCmd = &cobra.Command{
	Use:   "apply <target>",
	Short: "Submit an alert for a target to POST /act",
	Long: `Send an alert for the given target to a running engine. Without
--mitigation the engine asks its recommender and falls back to monitor.

With --bus the alert is published to act.alerts.<source> on the NATS
bus instead, and dispatched asynchronously by the engine.

Examples:
  act apply 10.0.0.5
  act apply 10.0.0.5 --mitigation response --severity 8
  act apply 10.0.0.5 --bus --url nats://127.0.0.1:4222`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		severity, err := core.SeverityFromFloat(float64(applySeverity))
		if err != nil {
			return err
		}
		event := core.AlertEvent{
			Target:     args[0],
			Mitigation: applyMitigation,
			Source:     applySource,
			Severity:   severity,
		}

		if applyBus {
			url := applyURL
			if url == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				url = cfg.Bus.URL
			}
			if err := publishAlert(url, event); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s %s published to %s\n", green("✓"), event.Target, cyan(url))
			return nil
		}

		url := applyURL
		if url == "" {
			url = apiBase() + "/act"
		}
		result, err := submitAlert(url, event)
		if err != nil {
			return err
		}
		if applyJSON {
			return printJSON(os.Stdout, result)
		}
		printDispatch(os.Stdout, result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringVar(&applySource, "source", "ng-siem", "alert source")
	applyCmd.Flags().IntVar(&applySeverity, "severity", 1, "alert severity (0-10)")
	applyCmd.Flags().StringVarP(&applyMitigation, "mitigation", "m", "", "mitigation to apply (default: ask the recommender)")
	applyCmd.Flags().StringVar(&applyURL, "url", "", "ingress URL, or NATS URL with --bus (default from config)")
	applyCmd.Flags().BoolVar(&applyBus, "bus", false, "publish to the NATS bus instead of POST /act")
	applyCmd.Flags().BoolVar(&applyJSON, "json", false, "print the response as JSON")
}

func submitAlert(url string, event core.AlertEvent) (*core.DispatchResult, error) {
	var result core.DispatchResult
	if err := apiPostJSON(url, event, &result, defaultHTTPTimeout); err != nil {
		return nil, err
	}
	return &result, nil
}

// publishAlert connects to an external NATS server and publishes one alert.
func publishAlert(url string, event core.AlertEvent) error {
	bus, err := core.NewEventBus(&core.BusConfig{Enabled: true, URL: url}, cliLogger("warn"))
	if err != nil {
		return err
	}
	defer bus.Close()
	if err := bus.PublishAlert(&event); err != nil {
		return fmt.Errorf("publishing alert: %w", err)
	}
	return nil
}

func printDispatch(w io.Writer, r *core.DispatchResult) {
	playbook := r.PlaybookName()
	if playbook == "" {
		playbook = dim("none")
	}
	fmt.Fprintf(w, "%s %s -> %s (playbook %s)\n",
		green("✓"), r.Target, bold(strings.ToUpper(r.Mitigation)), playbook)
}

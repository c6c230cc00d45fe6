package main

// ---------------------------------------------------------------------------
// cmd_up.go - start the engine and the alert ingress
// ---------------------------------------------------------------------------

import (
	"context"
	"fmt"
	"os"

	"github.com/ngsoc/act/internal/api"
	"github.com/ngsoc/act/internal/core"
	"github.com/ngsoc/act/internal/ingest"
	"github.com/spf13/cobra"
)

var (
	upLogLevel string
	upDryRun   bool
	upQuiet    bool
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the engine and HTTP ingress",
	Long: `Load the playbook directory, start the HTTP ingress (POST /act, /alert,
/acknowledge) and, when enabled, the syslog intake and the NATS event bus.
Runs until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)

	upCmd.Flags().StringVar(&upLogLevel, "log-level", "", "log level override: debug, info, warn, error")
	upCmd.Flags().BoolVar(&upDryRun, "dry-run", false, "validate config and playbooks, then exit")
	upCmd.Flags().BoolVarP(&upQuiet, "quiet", "q", false, "suppress non-essential output")
}

func runUp(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if upLogLevel != "" {
		cfg.Logging.Level = upLogLevel
	}

	warnings, validationErrs := cfg.Validate()
	if !upQuiet {
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "%s %s\n", yellow("⚠"), w)
		}
	}
	if len(validationErrs) > 0 {
		for _, e := range validationErrs {
			fmt.Fprintf(os.Stderr, "%s %s\n", red("✗"), e)
		}
		return fmt.Errorf("config validation failed with %d error(s)", len(validationErrs))
	}

	engine, err := core.NewEngine(cfg)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	if upDryRun {
		fmt.Fprintf(os.Stdout, "%s Config valid. %d playbook(s) loaded, %d skipped.\n",
			green("✓"), engine.Store.Count(), len(engine.Store.LoadErrors()))
		return nil
	}

	srv := api.NewServer(engine)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting ingress: %w", err)
	}

	if err := engine.Start(); err != nil {
		_ = srv.Stop()
		return fmt.Errorf("starting engine: %w", err)
	}

	var syslogSrv *ingest.SyslogServer
	if cfg.Syslog.Enabled {
		syslogSrv = ingest.NewSyslogServer(&cfg.Syslog, func(ctx context.Context, event core.AlertEvent) {
			engine.ReceiveAlert(ctx, event)
		}, engine.Logger)
		if err := syslogSrv.Start(engine.Context()); err != nil {
			_ = engine.Shutdown()
			_ = srv.Stop()
			return fmt.Errorf("starting syslog intake: %w", err)
		}
	}

	if !upQuiet {
		recommender := cfg.Recommender.URL
		if recommender == "" {
			recommender = "disabled"
		}
		fmt.Fprintf(os.Stderr, "%s act running on %s, %d playbook(s), recommender %s\n",
			green("✓"), bold(cfg.Addr()), engine.Store.Count(), cyan(recommender))
		fmt.Fprintf(os.Stderr, "%s Press Ctrl+C to stop\n", dim("▸"))
	}

	waitErr := engine.Wait()
	if syslogSrv != nil {
		_ = syslogSrv.Stop()
	}
	if err := srv.Stop(); err != nil {
		warnf("stopping ingress: %v", err)
	}
	return waitErr
}

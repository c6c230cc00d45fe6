package main

// ---------------------------------------------------------------------------
// helpers.go - color, env-based config, parameter parsing
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/ngsoc/act/internal/core"
	"github.com/rs/zerolog"
)

const defaultConfigPath = "configs/default.yaml"

// ---------------------------------------------------------------------------
// Color helpers (fatih/color honours NO_COLOR and non-TTY output)
// ---------------------------------------------------------------------------

var (
	red    = color.New(color.FgHiRed).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	dim    = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, yellow("warn: ")+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Env-based configuration
//
// Environment variables:
//   ACT_CONFIG          default config file path
//   ACT_PLAYBOOK_DIR    playbook directory override
//   ACT_RECOMMENDER_URL recommender URL override (empty disables it)
// ---------------------------------------------------------------------------

// configPath returns the config path, preferring flag > env > default.
func configPath() string {
	if cfgFile != "" && cfgFile != defaultConfigPath {
		return cfgFile
	}
	if e := os.Getenv("ACT_CONFIG"); e != "" {
		return e
	}
	return cfgFile
}

func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig(configPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// playbookDir returns the --dir flag value, or the configured directory.
func playbookDir(flagVal string) (string, error) {
	if flagVal != "" {
		return flagVal, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Playbooks.Dir, nil
}

// apiBase returns the ingress base URL for the configured server.
func apiBase() string {
	host := "127.0.0.1"
	port := core.DefaultConfig().Server.Port

	if cfg, err := core.LoadConfig(configPath()); err == nil {
		if cfg.Server.Host != "" && cfg.Server.Host != "0.0.0.0" {
			host = cfg.Server.Host
		}
		if cfg.Server.Port != 0 {
			port = cfg.Server.Port
		}
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// cliLogger logs to stderr in console format at the given level.
func cliLogger(level string) zerolog.Logger {
	return core.NewLogger(core.LoggingConfig{Level: level, Format: "console"}, os.Stderr, nil)
}

// parseParams turns repeated key=value flags into a parameter map.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", p)
		}
		params[k] = v
	}
	return params, nil
}

package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the entire act configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Playbooks   PlaybookConfig    `yaml:"playbooks" json:"playbooks"`
	Recommender RecommenderConfig `yaml:"recommender" json:"recommender"`
	Bus         BusConfig         `yaml:"bus" json:"bus"`
	Syslog      SyslogConfig      `yaml:"syslog" json:"syslog"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// ServerConfig holds ingress server settings.
type ServerConfig struct {
	Host        string          `yaml:"host" json:"host"`
	Port        int             `yaml:"port" json:"port"`
	CORSOrigins []string        `yaml:"cors_origins" json:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig holds the per-IP token bucket settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// PlaybookConfig holds playbook store settings.
type PlaybookConfig struct {
	Dir          string `yaml:"dir" json:"dir"`
	StrictParams bool   `yaml:"strict_params" json:"strict_params"`
}

// RecommenderConfig holds the decision service client settings. An empty
// URL disables the recommender.
type RecommenderConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	URL      string `yaml:"url" json:"url"`
	Embedded bool   `yaml:"embedded" json:"embedded"`
	DataDir  string `yaml:"data_dir" json:"data_dir"`
	Port     int    `yaml:"port" json:"port"`
}

// SyslogConfig holds the syslog alert intake settings. Protocol is udp,
// tcp or both. MaxInFlight bounds alerts being dispatched concurrently.
type SyslogConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Host        string `yaml:"host" json:"host"`
	Port        int    `yaml:"port" json:"port"`
	Protocol    string `yaml:"protocol" json:"protocol"`
	MaxInFlight int    `yaml:"max_in_flight" json:"max_in_flight"`
}

// DefaultSyslogMaxInFlight is used when syslog.max_in_flight is unset.
const DefaultSyslogMaxInFlight = 64

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	BufferSize int    `yaml:"buffer_size" json:"buffer_size"`
}

// DefaultConfig returns a Config that runs against ./playbooks and a local
// decision service.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8100,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				Burst:             200,
			},
		},
		Playbooks: PlaybookConfig{
			Dir: "./playbooks",
		},
		Recommender: RecommenderConfig{
			URL:     "http://localhost:8000/recommend",
			Timeout: DefaultRecommenderTimeout,
		},
		Bus: BusConfig{
			Enabled:  false,
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
			DataDir:  "./data/nats",
			Port:     4222,
		},
		Syslog: SyslogConfig{
			Enabled:     false,
			Host:        "0.0.0.0",
			Port:        5514,
			Protocol:    "udp",
			MaxInFlight: DefaultSyslogMaxInFlight,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			BufferSize: 1000,
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
// Environment variables override the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if v, ok := os.LookupEnv("ACT_RECOMMENDER_URL"); ok {
		cfg.Recommender.URL = v
	}
	if v := os.Getenv("ACT_PLAYBOOK_DIR"); v != "" {
		cfg.Playbooks.Dir = v
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate returns non-fatal warnings and fatal errors.
func (c *Config) Validate() (warnings []string, errs []error) {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Playbooks.Dir == "" {
		errs = append(errs, fmt.Errorf("playbooks.dir is required"))
	}
	if c.Recommender.URL == "" {
		warnings = append(warnings, "recommender.url is empty; events without a mitigation will be monitored")
	}
	if c.Recommender.Timeout < 0 {
		errs = append(errs, fmt.Errorf("recommender.timeout must not be negative"))
	}
	if c.Server.RateLimit.RequestsPerSecond <= 0 {
		warnings = append(warnings, "server.rate_limit.requests_per_second <= 0; rate limiting disabled")
	}
	switch c.LogLevel() {
	case "debug", "info", "warn", "error":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown logging.level %q, using info", c.Logging.Level))
	}
	if c.Bus.Enabled && !c.Bus.Embedded && c.Bus.URL == "" {
		errs = append(errs, fmt.Errorf("bus.url is required when the bus is enabled and not embedded"))
	}
	if c.Syslog.Enabled {
		switch strings.ToLower(c.Syslog.Protocol) {
		case "udp", "tcp", "both":
		default:
			errs = append(errs, fmt.Errorf("syslog.protocol %q must be udp, tcp or both", c.Syslog.Protocol))
		}
		if c.Syslog.Port <= 0 || c.Syslog.Port > 65535 {
			errs = append(errs, fmt.Errorf("syslog.port %d out of range", c.Syslog.Port))
		}
	}
	return warnings, errs
}

// LogLevel returns the lower-cased log level.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}

// Addr returns the ingress listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

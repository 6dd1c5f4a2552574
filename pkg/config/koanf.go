package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"relay.yaml",
	"relay.yml",
	"/etc/webcam-relay/relay.yaml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CONFIG_PATH"

// Options carries command-line overrides applied above every other layer.
type Options struct {
	// ConfigPath is an explicit YAML file; it must exist when set.
	ConfigPath string

	// RosterPath overrides roster.path.
	RosterPath string
}

func defaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			BasePath: "",
		},
		Roster: RosterConfig{
			Path: "",
		},
		Remote: RemoteConfig{
			Port:        22,
			Directory:   "public_html/webcams",
			UseAgent:    true,
			DialTimeout: 30 * time.Second,
		},
		Cycle: CycleConfig{
			Interval:           300 * time.Second,
			FetchTimeout:       30 * time.Second,
			TransferTimeout:    60 * time.Second,
			MaxParallelFetches: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Events: EventsConfig{
			Enabled:      false,
			URL:          "",
			Exchange:     "webcam-events",
			ExchangeType: "fanout",
			Durable:      true,
			QueueName:    "webcam-events-monitor",
		},
	}
}

// Load builds the configuration from layered sources:
//  1. built-in defaults
//  2. YAML config file (optional unless opts.ConfigPath is set)
//  3. environment variables (RELAY_*, see envTransformFunc)
//  4. command-line overrides in opts
//
// The result is validated before it is returned.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = findConfigFile()
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file not found: %w", err)
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if opts.RosterPath != "" {
		if err := k.Set("roster.path", opts.RosterPath); err != nil {
			return nil, fmt.Errorf("failed to set roster path: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var envMappings = map[string]string{
	"relay_archive_path": "archive.base_path",
	"relay_roster":       "roster.path",

	"relay_remote_host":              "remote.host",
	"relay_remote_port":              "remote.port",
	"relay_remote_user":              "remote.user",
	"relay_remote_dir":               "remote.directory",
	"relay_remote_password":          "remote.password",
	"relay_remote_key":               "remote.private_key_path",
	"relay_remote_key_passphrase":    "remote.key_passphrase",
	"relay_remote_use_agent":         "remote.use_agent",
	"relay_remote_known_hosts":       "remote.known_hosts_path",
	"relay_remote_insecure_host_key": "remote.insecure_ignore_host_key",
	"relay_remote_dial_timeout":      "remote.dial_timeout",

	"relay_interval":         "cycle.interval",
	"relay_fetch_timeout":    "cycle.fetch_timeout",
	"relay_transfer_timeout": "cycle.transfer_timeout",
	"relay_max_parallel":     "cycle.max_parallel_fetches",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"relay_events_enabled":  "events.enabled",
	"relay_events_url":      "events.url",
	"relay_events_exchange": "events.exchange",
	"relay_events_queue":    "events.queue_name",
	"relay_events_durable":  "events.durable",

	"relay_metrics_textfile": "metrics.textfile_path",
}

// envTransformFunc maps an environment variable name to its koanf path.
// Unmapped variables return "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

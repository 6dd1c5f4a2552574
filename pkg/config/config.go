// Package config loads the relay configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"time"

	"github.com/pershinghar/webcam-relay/pkg/logging"
	"github.com/pershinghar/webcam-relay/pkg/models"
)

// Config is the process-level configuration consumed by the relay.
type Config struct {
	Archive ArchiveConfig `koanf:"archive"`
	Roster  RosterConfig  `koanf:"roster"`
	Remote  RemoteConfig  `koanf:"remote"`
	Cycle   CycleConfig   `koanf:"cycle"`
	Logging LoggingConfig `koanf:"logging"`
	Events  EventsConfig  `koanf:"events"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ArchiveConfig locates the local image archive.
type ArchiveConfig struct {
	// BasePath must already exist; daily directories are created under it.
	BasePath string `koanf:"base_path" validate:"required,dir"`
}

// RosterConfig locates the camera definition file.
type RosterConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// RemoteConfig describes the SFTP destination for the latest images.
type RemoteConfig struct {
	Host                  string        `koanf:"host" validate:"required"`
	Port                  int           `koanf:"port" validate:"min=1,max=65535"`
	User                  string        `koanf:"user" validate:"required"`
	Directory             string        `koanf:"directory" validate:"required"`
	Password              string        `koanf:"password"`
	PrivateKeyPath        string        `koanf:"private_key_path" validate:"omitempty,file"`
	KeyPassphrase         string        `koanf:"key_passphrase"`
	UseAgent              bool          `koanf:"use_agent"`
	KnownHostsPath        string        `koanf:"known_hosts_path"`
	InsecureIgnoreHostKey bool          `koanf:"insecure_ignore_host_key"`
	DialTimeout           time.Duration `koanf:"dial_timeout" validate:"gt=0"`
}

// CycleConfig controls the polling loop.
type CycleConfig struct {
	Interval           time.Duration `koanf:"interval" validate:"gt=0"`
	FetchTimeout       time.Duration `koanf:"fetch_timeout" validate:"gt=0"`
	TransferTimeout    time.Duration `koanf:"transfer_timeout" validate:"gt=0"`
	MaxParallelFetches int           `koanf:"max_parallel_fetches" validate:"min=1"`
}

// LoggingConfig mirrors logging.Config for file and env loading.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// EventsConfig enables publishing cycle events to RabbitMQ.
type EventsConfig struct {
	Enabled      bool   `koanf:"enabled"`
	URL          string `koanf:"url" validate:"required_if=Enabled true"`
	Exchange     string `koanf:"exchange" validate:"required"`
	ExchangeType string `koanf:"exchange_type" validate:"oneof=fanout topic direct"`
	RoutingKey   string `koanf:"routing_key"`
	Durable      bool   `koanf:"durable"`
	QueueName    string `koanf:"queue_name"`
}

// MetricsConfig controls the Prometheus textfile output. Empty path disables it.
type MetricsConfig struct {
	TextfilePath string `koanf:"textfile_path"`
}

// SSHConfig converts the remote section into the upload client configuration.
func (c *Config) SSHConfig() *models.SSHConfig {
	return &models.SSHConfig{
		Host:                  c.Remote.Host,
		Port:                  c.Remote.Port,
		Username:              c.Remote.User,
		Password:              c.Remote.Password,
		PrivateKeyPath:        c.Remote.PrivateKeyPath,
		KeyPassphrase:         c.Remote.KeyPassphrase,
		UseAgent:              c.Remote.UseAgent,
		KnownHostsPath:        c.Remote.KnownHostsPath,
		InsecureIgnoreHostKey: c.Remote.InsecureIgnoreHostKey,
		Timeout:               c.Remote.DialTimeout,
		TransferTimeout:       c.Cycle.TransferTimeout,
	}
}

// RabbitMQConfig converts the events section into the publisher configuration.
func (c *Config) RabbitMQConfig() *models.RabbitMQConfig {
	rc := models.DefaultRabbitMQConfig()
	rc.URL = c.Events.URL
	rc.Exchange = c.Events.Exchange
	rc.ExchangeType = c.Events.ExchangeType
	rc.RoutingKey = c.Events.RoutingKey
	rc.Durable = c.Events.Durable
	if c.Events.QueueName != "" {
		rc.QueueName = c.Events.QueueName
	}
	return rc
}

// LogConfig converts the logging section for logging.Init.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Caller: c.Logging.Caller,
	}
}

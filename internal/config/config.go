package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Agent    AgentConfig    `yaml:"agent"`
	Detector DetectorConfig `yaml:"detector"`
	Runner   RunnerConfig   `yaml:"runner"`
	Storage  StorageConfig  `yaml:"storage"`
	Notifier NotifierConfig `yaml:"notifier"`
	Archive  ArchiveConfig  `yaml:"archive"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AgentConfig holds browser-agent sidecar settings
type AgentConfig struct {
	BaseURL            string        `yaml:"base_url"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	Techniques         []string      `yaml:"techniques"`
	VariantPreferences []string      `yaml:"variant_preferences"`
	MenuPollInterval   time.Duration `yaml:"menu_poll_interval"`
	MenuTimeout        time.Duration `yaml:"menu_timeout"`
}

// DetectorConfig holds completion detector tuning. These durations are
// configuration, not protocol: correctness does not depend on them.
type DetectorConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	StartPollInterval time.Duration `yaml:"start_poll_interval"`
	MinStartWait      time.Duration `yaml:"min_start_wait"`
	MaxWait           time.Duration `yaml:"max_wait"`
}

// RunnerConfig holds orchestrator settings
type RunnerConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// StorageConfig holds local filesystem locations
type StorageConfig struct {
	OutputDir   string `yaml:"output_dir"`
	ProfilesDir string `yaml:"profiles_dir"`
}

// NotifierConfig holds callback delivery settings
type NotifierConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ArchiveConfig holds the optional run archive settings
type ArchiveConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds the optional AMQP callback transport settings
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Agent.BaseURL == "" {
		return fmt.Errorf("agent base_url is required")
	}

	if len(c.Agent.Techniques) == 0 {
		return fmt.Errorf("at least one agent technique is required")
	}

	if c.Detector.PollInterval < 0 || c.Detector.StartPollInterval < 0 ||
		c.Detector.MinStartWait < 0 || c.Detector.MaxWait < 0 {
		return fmt.Errorf("detector durations must not be negative")
	}

	if c.Runner.MaxConcurrent < 0 {
		return fmt.Errorf("runner max_concurrent must not be negative")
	}

	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage output_dir is required")
	}

	if c.Storage.ProfilesDir == "" {
		return fmt.Errorf("storage profiles_dir is required")
	}

	if c.Archive.Enabled {
		if c.Archive.Database.Host == "" {
			return fmt.Errorf("archive database host is required when archive is enabled")
		}
		if c.Archive.Database.Port < MinPort || c.Archive.Database.Port > MaxPort {
			return fmt.Errorf("invalid archive database port: %d (must be between %d and %d)", c.Archive.Database.Port, MinPort, MaxPort)
		}
		if c.Archive.Database.Database == "" {
			return fmt.Errorf("archive database name is required when archive is enabled")
		}
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required when rabbitmq is enabled")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required when rabbitmq is enabled")
		}
	}

	return nil
}

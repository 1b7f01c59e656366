package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" validate:"required"`
	Database  DatabaseConfig  `yaml:"database" validate:"required"`
	Executor  ExecutorConfig  `yaml:"executor" validate:"required"`
	Providers ProvidersConfig `yaml:"providers"`
	Engine    EngineConfig    `yaml:"engine"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the host:port the API binds to.
	ListenAddress string `yaml:"listenAddress" validate:"required"`

	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DatabaseConfig configures the order ledger database.
type DatabaseConfig struct {
	// Path is the SQLite database file, or ":memory:".
	Path string `yaml:"path" validate:"required"`

	MaxOpenConns    int           `yaml:"maxOpenConns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"maxIdleConns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// ExecutorConfig configures the external IaC executor endpoint.
type ExecutorConfig struct {
	// BaseURL is the executor API root.
	BaseURL string `yaml:"baseUrl" validate:"required,url"`

	// CallbackBaseURL is the externally reachable URL prefix of this
	// engine's webhook.
	CallbackBaseURL string `yaml:"callbackBaseUrl" validate:"required,url"`

	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retryCount" validate:"gte=0"`
	AuthToken  string        `yaml:"authToken"`
}

// ProvidersConfig holds the per-cloud provider settings. A nil section
// leaves that cloud unregistered.
type ProvidersConfig struct {
	HuaweiCloud *HuaweiCloudConfig `yaml:"huaweicloud"`
	Openstack   *OpenstackConfig   `yaml:"openstack"`
}

// HuaweiCloudConfig configures the Huawei Cloud ECS power-state client.
type HuaweiCloudConfig struct {
	Endpoint        string        `yaml:"endpoint" validate:"required,url"`
	AuthToken       string        `yaml:"authToken"`
	Timeout         time.Duration `yaml:"timeout"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	MaxPollAttempts int           `yaml:"maxPollAttempts" validate:"gte=0"`
}

// OpenstackConfig configures the Nova power-state client.
type OpenstackConfig struct {
	Endpoint  string        `yaml:"endpoint" validate:"required,url"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
}

// EngineConfig tunes the orchestration core.
type EngineConfig struct {
	// Workers bounds the power-state worker pool.
	Workers int `yaml:"workers" validate:"gte=0"`

	// PollInterval is the long-poll re-check cadence.
	PollInterval time.Duration `yaml:"pollInterval"`

	// LongPollMaxWait caps how long one status long-poll may block.
	LongPollMaxWait time.Duration `yaml:"longPollMaxWait"`
}

// TelemetryConfig configures logging, metrics and tracing.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listenAddress"`
	Path          string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate" validate:"gte=0,lte=1"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the development configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path:            "stratus.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Executor: ExecutorConfig{
			BaseURL:         "http://localhost:9090",
			CallbackBaseURL: "http://localhost:8080",
			Timeout:         30 * time.Second,
			RetryCount:      3,
		},
		Engine: EngineConfig{
			Workers:         10,
			PollInterval:    time.Second,
			LongPollMaxWait: 60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "console",
				Output: "stdout",
			},
			Metrics: MetricsConfig{
				Enabled:       true,
				ListenAddress: ":9091",
				Path:          "/metrics",
			},
			Tracing: TracingConfig{
				Enabled:      false,
				Exporter:     "stdout",
				SamplingRate: 1.0,
				Insecure:     true,
			},
		},
	}
}

// Load reads, parses and validates a configuration file. Values missing
// from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates configuration bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"liqrisk/internal/risk/liquidation"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Engine      EngineConfig      `yaml:"engine"`
	Server      ServerConfig      `yaml:"server"`
	GRPC        GRPCConfig        `yaml:"grpc"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Client      ClientConfig      `yaml:"client"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `yaml:"name"`
	DefaultMode string `yaml:"default_mode" validate:"oneof=hf ltv"`
}

// EngineConfig contains the defaults applied by the risk engine
type EngineConfig struct {
	LLTV               float64 `yaml:"lltv" validate:"gt=0,lte=1"`
	MaxDebtIncreasePct float64 `yaml:"max_debt_increase_pct" validate:"gt=0,lte=100"`
	StepPct            float64 `yaml:"step_pct" validate:"gt=0"`
}

// ServerConfig contains HTTP/WebSocket server settings
type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Production     bool     `yaml:"production"`
	MaxConnections int      `yaml:"max_connections" validate:"min=1,max=100000"`
	RateLimit      float64  `yaml:"rate_limit"` // requests per second per IP
	RateBurst      int      `yaml:"rate_burst"`
	StaticDir      string   `yaml:"static_dir"`
}

// GRPCConfig contains gRPC health service settings
type GRPCConfig struct {
	HealthPort     string `yaml:"health_port"` // empty disables the gRPC listener
	HealthInterval int    `yaml:"health_interval" validate:"min=1,max=300"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"` // 0 serves metrics only on the API port
	EnableMetrics bool `yaml:"enable_metrics"`
	TraceStdout   bool `yaml:"trace_stdout"` // export spans and OTel log records to stdout
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	SweepPoolSize   int `yaml:"sweep_pool_size" validate:"min=1,max=100"`
	SweepPoolBuffer int `yaml:"sweep_pool_buffer" validate:"min=1,max=10000"`
}

// ClientConfig contains settings for the remote risk client
type ClientConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"min=1,max=300"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion.
// Missing sections keep the values of DefaultConfig.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of DefaultConfig and validates the result
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	for _, validate := range []func() error{
		c.validateAppConfig,
		c.validateEngineConfig,
		c.validateServerConfig,
		c.validateGRPCConfig,
		c.validateSystemConfig,
		c.validateTelemetryConfig,
		c.validateConcurrencyConfig,
		c.validateClientConfig,
	} {
		if err := validate(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if _, err := liquidation.ParseMode(c.App.DefaultMode); err != nil {
		return ValidationError{
			Field:   "app.default_mode",
			Value:   c.App.DefaultMode,
			Message: "must be one of: hf, ltv",
		}
	}
	return nil
}

func (c *Config) validateEngineConfig() error {
	if c.Engine.LLTV <= 0 || c.Engine.LLTV > 1 {
		return ValidationError{
			Field:   "engine.lltv",
			Value:   c.Engine.LLTV,
			Message: "must be in (0, 1]",
		}
	}

	if err := liquidation.ValidateCurveOptions(c.Engine.CurveOptions()); err != nil {
		return ValidationError{
			Field:   "engine.curve",
			Value:   c.Engine.CurveOptions(),
			Message: err.Error(),
		}
	}

	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.Port == "" {
		return ValidationError{
			Field:   "server.port",
			Message: "server port is required",
		}
	}

	if c.Server.MaxConnections <= 0 {
		return ValidationError{
			Field:   "server.max_connections",
			Value:   c.Server.MaxConnections,
			Message: "must be positive",
		}
	}

	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return ValidationError{
			Field:   "server.rate_limit",
			Value:   c.Server.RateLimit,
			Message: "rate limit and burst must not be negative",
		}
	}

	if c.Server.Production && contains(c.Server.AllowedOrigins, "*") {
		return ValidationError{
			Field:   "server.allowed_origins",
			Value:   c.Server.AllowedOrigins,
			Message: "wildcard origin is not allowed in production",
		}
	}

	return nil
}

func (c *Config) validateGRPCConfig() error {
	if c.GRPC.HealthPort != "" && c.GRPC.HealthInterval <= 0 {
		return ValidationError{
			Field:   "grpc.health_interval",
			Value:   c.GRPC.HealthInterval,
			Message: "must be positive when the gRPC health port is set",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateTelemetryConfig() error {
	if c.Telemetry.EnableMetrics && (c.Telemetry.MetricsPort < 0 || c.Telemetry.MetricsPort > 65535) {
		return ValidationError{
			Field:   "telemetry.metrics_port",
			Value:   c.Telemetry.MetricsPort,
			Message: "must be a valid TCP port",
		}
	}
	return nil
}

func (c *Config) validateConcurrencyConfig() error {
	if c.Concurrency.SweepPoolSize <= 0 {
		return ValidationError{
			Field:   "concurrency.sweep_pool_size",
			Value:   c.Concurrency.SweepPoolSize,
			Message: "must be positive",
		}
	}
	if c.Concurrency.SweepPoolBuffer <= 0 {
		return ValidationError{
			Field:   "concurrency.sweep_pool_buffer",
			Value:   c.Concurrency.SweepPoolBuffer,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateClientConfig() error {
	if c.Client.TimeoutSeconds <= 0 {
		return ValidationError{
			Field:   "client.timeout_seconds",
			Value:   c.Client.TimeoutSeconds,
			Message: "must be positive",
		}
	}
	return nil
}

// CurveOptions returns the engine curve defaults as engine options
func (e EngineConfig) CurveOptions() liquidation.CurveOptions {
	return liquidation.CurveOptions{
		MaxDebtIncreasePct: e.MaxDebtIncreasePct,
		StepPct:            e.StepPct,
	}
}

// NewEngine builds a risk engine carrying these defaults
func (e EngineConfig) NewEngine() *liquidation.Engine {
	return liquidation.NewEngine(
		liquidation.WithDefaultLLTV(e.LLTV),
		liquidation.WithCurveDefaults(e.CurveOptions()),
	)
}

// Timeout returns the client timeout as a duration
func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// String returns a YAML representation of the configuration
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "liqrisk",
			DefaultMode: string(liquidation.ModeHealthFactor),
		},
		Engine: EngineConfig{
			LLTV:               liquidation.DefaultLLTV,
			MaxDebtIncreasePct: liquidation.DefaultMaxDebtIncreasePct,
			StepPct:            liquidation.DefaultStepPct,
		},
		Server: ServerConfig{
			Port:           ":8081",
			AllowedOrigins: []string{"http://localhost:8081"},
			MaxConnections: 1000,
			RateLimit:      10,
			RateBurst:      20,
		},
		GRPC: GRPCConfig{
			HealthInterval: 5,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   0,
			EnableMetrics: true,
		},
		Concurrency: ConcurrencyConfig{
			SweepPoolSize:   8,
			SweepPoolBuffer: 1000,
		},
		Client: ClientConfig{
			BaseURL:        "http://localhost:8081",
			TimeoutSeconds: 10,
		},
	}
}

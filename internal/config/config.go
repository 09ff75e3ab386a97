package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type CORSConfig struct {
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	ExposeHeaders    []string `mapstructure:"expose_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// AuthConfig holds the Poe access key. An empty key disables the check.
type AuthConfig struct {
	AccessKey string `mapstructure:"access_key"`
}

type UpstreamConfig struct {
	// Provider selects the backend: "xai" (OpenAI-compatible) or "gemini".
	Provider    string  `mapstructure:"provider"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	APIKeyParam string  `mapstructure:"api_key_param"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`

	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     uint          `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type RelayConfig struct {
	// Stream forwards upstream deltas as they arrive instead of waiting for
	// the full answer.
	Stream           bool          `mapstructure:"stream"`
	Deadline         time.Duration `mapstructure:"deadline"`
	Placeholder      string        `mapstructure:"placeholder"`
	MaxLength        int           `mapstructure:"max_length"`
	TruncationNotice string        `mapstructure:"truncation_notice"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	ChunkDelay       time.Duration `mapstructure:"chunk_delay"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultModels is the model used per provider when upstream.model is unset.
var DefaultModels = map[string]string{
	"xai":    "grok-beta",
	"gemini": "gemini-1.5-flash",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("upstream.provider", "xai")
	// Empty until the provider is known; see DefaultModels.
	v.SetDefault("upstream.model", "")
	v.SetDefault("upstream.base_url", "https://api.x.ai/v1")
	v.SetDefault("upstream.max_tokens", 2000)
	v.SetDefault("upstream.temperature", 0.7)
	v.SetDefault("upstream.attempt_timeout", 20*time.Second)
	v.SetDefault("upstream.retry.max_attempts", 3)
	v.SetDefault("upstream.retry.initial_interval", time.Second)
	v.SetDefault("upstream.retry.max_interval", 8*time.Second)
	v.SetDefault("upstream.retry.multiplier", 2.0)

	v.SetDefault("relay.stream", false)
	v.SetDefault("relay.deadline", 45*time.Second)
	v.SetDefault("relay.placeholder", "Processing your request...\n\n")
	v.SetDefault("relay.max_length", 95000)
	v.SetDefault("relay.truncation_notice", "\n\n*[Response truncated: the answer exceeded the maximum message length.]*")
	v.SetDefault("relay.chunk_size", 500)
	v.SetDefault("relay.chunk_delay", 10*time.Millisecond)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "poe-relay")

	v.SetDefault("log.level", "info")
}

func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"upstream.api_key":       "XAI_API_KEY",
		"upstream.api_key_param": "XAI_API_KEY_PARAM",
		"server.port":            "PORT",
		"auth.access_key":        "POE_ACCESS_KEY",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

// LoadConfig reads an optional .env file and an optional YAML file, then
// layers environment variables on top. Both paths may be empty.
func LoadConfig(configPath string, envPath string) (*Config, error) {
	// Load .env file first
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if config.Upstream.Model == "" {
		config.Upstream.Model = DefaultModels[config.Upstream.Provider]
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port must not be empty"))
	}
	switch c.Upstream.Provider {
	case "xai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("upstream.provider %q is not supported", c.Upstream.Provider))
	}
	if c.Upstream.APIKey == "" && c.Upstream.APIKeyParam == "" {
		errs = append(errs, errors.New("XAI_API_KEY (or XAI_API_KEY_PARAM) is required"))
	}
	if c.Upstream.Model == "" {
		errs = append(errs, errors.New("upstream.model must not be empty"))
	} else if c.Upstream.Provider == "gemini" && strings.HasPrefix(c.Upstream.Model, "grok") {
		errs = append(errs, fmt.Errorf("upstream.model %q is not a gemini model", c.Upstream.Model))
	}
	if c.Upstream.MaxTokens <= 0 {
		errs = append(errs, errors.New("upstream.max_tokens must be positive"))
	}
	if c.Upstream.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("upstream.attempt_timeout must be positive"))
	}
	if c.Upstream.Retry.MaxAttempts == 0 {
		errs = append(errs, errors.New("upstream.retry.max_attempts must be at least 1"))
	}
	if c.Relay.Deadline <= 0 {
		errs = append(errs, errors.New("relay.deadline must be positive"))
	}
	if c.Relay.MaxLength <= 0 {
		errs = append(errs, errors.New("relay.max_length must be positive"))
	}
	if c.Relay.ChunkSize < 0 {
		errs = append(errs, errors.New("relay.chunk_size must not be negative"))
	}
	if c.Relay.ChunkDelay < 0 {
		errs = append(errs, errors.New("relay.chunk_delay must not be negative"))
	}
	return errors.Join(errs...)
}

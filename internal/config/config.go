// Package config loads, validates and prints the echo service configuration.
// Values come from defaults, an optional JSON or YAML file, environment
// variables and explicit overrides, in increasing order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcncl/worker-echo/internal/errors"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Echo      EchoConfig      `json:"echo" yaml:"echo"`
	KV        KVConfig        `json:"kv" yaml:"kv"`
	Console   ConsoleConfig   `json:"console" yaml:"console"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Security  SecurityConfig  `json:"security" yaml:"security"`
}

// ServerConfig holds HTTP server related configuration
type ServerConfig struct {
	Port            int      `json:"port" yaml:"port" env:"PORT"`
	AdminPort       int      `json:"admin_port" yaml:"admin_port" env:"ADMIN_PORT"`
	LogLevel        string   `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat       string   `json:"log_format" yaml:"log_format" env:"LOG_FORMAT"`
	MaxRequestSize  int64    `json:"max_request_size" yaml:"max_request_size" env:"MAX_REQUEST_SIZE"`
	RequestTimeout  Duration `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// EchoConfig holds the values reflected by the echo handler and its branch switches
type EchoConfig struct {
	Foo           string   `json:"foo" yaml:"foo" env:"FOO"`
	Spam          string   `json:"spam" yaml:"spam" env:"SPAM"`
	Testing       *bool    `json:"testing,omitempty" yaml:"testing,omitempty" env:"TESTING"`
	EnableVars    bool     `json:"enable_vars" yaml:"enable_vars" env:"ECHO_ENABLE_VARS"`
	EnableKV      bool     `json:"enable_kv" yaml:"enable_kv" env:"ECHO_ENABLE_KV"`
	EnableConsole bool     `json:"enable_console" yaml:"enable_console" env:"ECHO_ENABLE_CONSOLE"`
	IncludeHash   bool     `json:"include_hash" yaml:"include_hash" env:"ECHO_INCLUDE_HASH"`
	KVTTL         Duration `json:"kv_ttl" yaml:"kv_ttl" env:"KV_TTL"`
}

// KVConfig selects and configures the key-value store
type KVConfig struct {
	Backend         string      `json:"backend" yaml:"backend" env:"KV_BACKEND"`
	Namespace       string      `json:"namespace" yaml:"namespace" env:"KV_NAMESPACE"`
	JanitorInterval Duration    `json:"janitor_interval" yaml:"janitor_interval" env:"KV_JANITOR_INTERVAL"`
	Redis           RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL            string   `json:"url" yaml:"url" env:"REDIS_URL"`
	RetryAttempts  int      `json:"retry_attempts" yaml:"retry_attempts" env:"REDIS_RETRY_ATTEMPTS"`
	RetryInterval  Duration `json:"retry_interval" yaml:"retry_interval" env:"REDIS_RETRY_INTERVAL"`
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout" env:"REDIS_CONNECT_TIMEOUT"`
}

// ConsoleConfig controls where console messages go besides the log
type ConsoleConfig struct {
	EnablePublish bool   `json:"enable_publish" yaml:"enable_publish" env:"CONSOLE_ENABLE_PUBLISH"`
	ProjectID     string `json:"project_id" yaml:"project_id" env:"PROJECT_ID"`
	TopicID       string `json:"topic_id" yaml:"topic_id" env:"TOPIC_ID"`
	Source        string `json:"source" yaml:"source" env:"CONSOLE_SOURCE"`
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	EnableTracing bool    `json:"enable_tracing" yaml:"enable_tracing" env:"ENABLE_TRACING"`
	OTLPEndpoint  string  `json:"otlp_endpoint" yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SamplingRatio float64 `json:"sampling_ratio" yaml:"sampling_ratio" env:"TRACE_SAMPLING_RATIO"`
	ServiceName   string  `json:"service_name" yaml:"service_name" env:"SERVICE_NAME"`
}

// SecurityConfig holds security related configuration
type SecurityConfig struct {
	RateLimit      int      `json:"rate_limit" yaml:"rate_limit" env:"RATE_LIMIT"`
	IPRateLimit    int      `json:"ip_rate_limit" yaml:"ip_rate_limit" env:"IP_RATE_LIMIT"`
	// TrustProxy keys the per-IP limiter on X-Forwarded-For. Only enable it
	// behind a proxy that overwrites the header.
	TrustProxy     bool     `json:"trust_proxy" yaml:"trust_proxy" env:"TRUST_PROXY"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" env:"ALLOWED_METHODS"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" env:"ALLOWED_HEADERS"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			AdminPort:       9090,
			LogLevel:        "info",
			LogFormat:       "json",
			MaxRequestSize:  1 * 1024 * 1024, // 1 MB
			RequestTimeout:  Seconds(30),
			ReadTimeout:     Seconds(5),
			WriteTimeout:    Seconds(10),
			IdleTimeout:     Seconds(120),
			ShutdownTimeout: Seconds(30),
		},
		Echo: EchoConfig{
			EnableVars:    true,
			EnableKV:      true,
			EnableConsole: true,
			IncludeHash:   true,
			KVTTL:         Seconds(3600),
		},
		KV: KVConfig{
			Backend:         "memory",
			JanitorInterval: Seconds(60),
			Redis: RedisConfig{
				RetryAttempts:  3,
				RetryInterval:  Duration{500 * time.Millisecond},
				ConnectTimeout: Seconds(10),
			},
		},
		Console: ConsoleConfig{
			Source: "echo",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "localhost:4317",
			SamplingRatio: 0.1,
			ServiceName:   "worker-echo",
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept",
				"Content-Type",
				"Content-Length",
				"Accept-Encoding",
				"Authorization",
				"X-Request-ID",
			},
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.NewValidationError("Server.Port must be between 1 and 65535")
	}
	if c.Server.AdminPort < 1 || c.Server.AdminPort > 65535 {
		return errors.NewValidationError("Server.AdminPort must be between 1 and 65535")
	}
	if c.Server.Port == c.Server.AdminPort {
		return errors.NewValidationError("Server.AdminPort must differ from Server.Port")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"trace": true,
	}
	if _, ok := validLogLevels[strings.ToLower(c.Server.LogLevel)]; !ok {
		return errors.NewValidationError("Server.LogLevel must be one of: debug, info, warn, error, fatal, trace")
	}
	switch c.Server.LogFormat {
	case "json", "text", "dev":
	default:
		return errors.NewValidationError("Server.LogFormat must be one of: json, text, dev")
	}
	if c.Server.MaxRequestSize <= 0 {
		return errors.NewValidationError("Server.MaxRequestSize must be positive")
	}

	if c.Echo.KVTTL.Duration <= 0 {
		return errors.NewValidationError("Echo.KVTTL must be positive")
	}

	switch c.KV.Backend {
	case "memory":
	case "redis":
		if c.KV.Redis.URL == "" {
			return errors.NewValidationError("KV.Redis.URL is required when KV.Backend is redis")
		}
	default:
		return errors.NewValidationError("KV.Backend must be one of: memory, redis")
	}

	if c.Console.EnablePublish {
		if c.Console.ProjectID == "" {
			return errors.NewValidationError("Console.ProjectID is required when publishing is enabled")
		}
		if c.Console.TopicID == "" {
			return errors.NewValidationError("Console.TopicID is required when publishing is enabled")
		}
	}

	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return errors.NewValidationError("Telemetry.SamplingRatio must be between 0 and 1")
	}
	if c.Telemetry.EnableTracing && c.Telemetry.OTLPEndpoint == "" {
		return errors.NewValidationError("Telemetry.OTLPEndpoint is required when tracing is enabled")
	}

	if c.Security.RateLimit < 0 {
		return errors.NewValidationError("Security.RateLimit cannot be negative")
	}
	if c.Security.IPRateLimit < 0 {
		return errors.NewValidationError("Security.IPRateLimit cannot be negative")
	}

	return nil
}

// LoadEnvFile loads a dotenv file into the process environment. Variables
// already set in the environment win over the file.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrap(err, "failed to load env file")
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. Variables that are not
// set leave the existing value untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid environment: %v", err))
	}
	return nil
}

// LoadFromEnv returns the defaults overlaid with environment variables
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a JSON or YAML file. Keys missing
// from the file keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("failed to parse JSON config file: %v", err))
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("failed to parse YAML config file: %v", err))
		}
	default:
		return nil, errors.NewValidationError("unsupported config file format: " + ext)
	}

	return cfg, nil
}

// MergeConfigs merges two configurations, with the second taking precedence.
// Only non-zero override values are applied, so a boolean override can turn
// a switch on but not off.
func MergeConfigs(base, override *Config) *Config {
	result := *base

	if override == nil {
		return &result
	}

	// Server config
	if override.Server.Port != 0 {
		result.Server.Port = override.Server.Port
	}
	if override.Server.AdminPort != 0 {
		result.Server.AdminPort = override.Server.AdminPort
	}
	if override.Server.LogLevel != "" {
		result.Server.LogLevel = override.Server.LogLevel
	}
	if override.Server.LogFormat != "" {
		result.Server.LogFormat = override.Server.LogFormat
	}
	if override.Server.MaxRequestSize != 0 {
		result.Server.MaxRequestSize = override.Server.MaxRequestSize
	}
	mergeDuration(&result.Server.RequestTimeout, override.Server.RequestTimeout)
	mergeDuration(&result.Server.ReadTimeout, override.Server.ReadTimeout)
	mergeDuration(&result.Server.WriteTimeout, override.Server.WriteTimeout)
	mergeDuration(&result.Server.IdleTimeout, override.Server.IdleTimeout)
	mergeDuration(&result.Server.ShutdownTimeout, override.Server.ShutdownTimeout)

	// Echo config
	if override.Echo.Foo != "" {
		result.Echo.Foo = override.Echo.Foo
	}
	if override.Echo.Spam != "" {
		result.Echo.Spam = override.Echo.Spam
	}
	if override.Echo.Testing != nil {
		v := *override.Echo.Testing
		result.Echo.Testing = &v
	}
	if override.Echo.EnableVars {
		result.Echo.EnableVars = true
	}
	if override.Echo.EnableKV {
		result.Echo.EnableKV = true
	}
	if override.Echo.EnableConsole {
		result.Echo.EnableConsole = true
	}
	if override.Echo.IncludeHash {
		result.Echo.IncludeHash = true
	}
	mergeDuration(&result.Echo.KVTTL, override.Echo.KVTTL)

	// KV config
	if override.KV.Backend != "" {
		result.KV.Backend = override.KV.Backend
	}
	if override.KV.Namespace != "" {
		result.KV.Namespace = override.KV.Namespace
	}
	mergeDuration(&result.KV.JanitorInterval, override.KV.JanitorInterval)
	if override.KV.Redis.URL != "" {
		result.KV.Redis.URL = override.KV.Redis.URL
	}
	if override.KV.Redis.RetryAttempts != 0 {
		result.KV.Redis.RetryAttempts = override.KV.Redis.RetryAttempts
	}
	mergeDuration(&result.KV.Redis.RetryInterval, override.KV.Redis.RetryInterval)
	mergeDuration(&result.KV.Redis.ConnectTimeout, override.KV.Redis.ConnectTimeout)

	// Console config
	if override.Console.EnablePublish {
		result.Console.EnablePublish = true
	}
	if override.Console.ProjectID != "" {
		result.Console.ProjectID = override.Console.ProjectID
	}
	if override.Console.TopicID != "" {
		result.Console.TopicID = override.Console.TopicID
	}
	if override.Console.Source != "" {
		result.Console.Source = override.Console.Source
	}

	// Telemetry config
	if override.Telemetry.EnableTracing {
		result.Telemetry.EnableTracing = true
	}
	if override.Telemetry.OTLPEndpoint != "" {
		result.Telemetry.OTLPEndpoint = override.Telemetry.OTLPEndpoint
	}
	if override.Telemetry.SamplingRatio != 0 {
		result.Telemetry.SamplingRatio = override.Telemetry.SamplingRatio
	}
	if override.Telemetry.ServiceName != "" {
		result.Telemetry.ServiceName = override.Telemetry.ServiceName
	}

	// Security config
	if override.Security.RateLimit != 0 {
		result.Security.RateLimit = override.Security.RateLimit
	}
	if override.Security.IPRateLimit != 0 {
		result.Security.IPRateLimit = override.Security.IPRateLimit
	}
	if override.Security.TrustProxy {
		result.Security.TrustProxy = true
	}
	if len(override.Security.AllowedOrigins) > 0 {
		result.Security.AllowedOrigins = override.Security.AllowedOrigins
	}
	if len(override.Security.AllowedMethods) > 0 {
		result.Security.AllowedMethods = override.Security.AllowedMethods
	}
	if len(override.Security.AllowedHeaders) > 0 {
		result.Security.AllowedHeaders = override.Security.AllowedHeaders
	}

	return &result
}

func mergeDuration(dst *Duration, override Duration) {
	if override.Duration != 0 {
		*dst = override
	}
}

// Load loads the configuration from multiple sources with the following precedence:
// 1. Override (highest precedence)
// 2. Environment variables
// 3. Config file
// 4. Default values (lowest precedence)
func Load(configFile string, override *Config) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		fileCfg, err := LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if override != nil {
		cfg = MergeConfigs(cfg, override)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// String returns a string representation of the configuration
// with the Redis password masked
func (c *Config) String() string {
	masked := *c

	if masked.KV.Redis.URL != "" {
		if u, err := url.Parse(masked.KV.Redis.URL); err == nil {
			masked.KV.Redis.URL = u.Redacted()
		} else {
			masked.KV.Redis.URL = "********"
		}
	}

	bytes, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling config: %v", err)
	}

	return string(bytes)
}

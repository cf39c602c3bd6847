package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides (e.g. MONGOSRV_SERVER_PORT).
// Leaf fields use split_words rather than an explicit name so that envconfig never
// falls back to an unprefixed variable such as PATH or HOST.
const EnvPrefix = "MONGOSRV"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Peer      PeerConfig      `yaml:"peer" envconfig:"PEER"`
	MongoDB   MongoDBConfig   `yaml:"mongodb" envconfig:"MONGODB"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Auth      AuthConfig      `yaml:"auth" envconfig:"AUTH"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Metrics   MetricsConfig   `yaml:"metrics" envconfig:"METRICS"`
	CORS      CORSConfig      `yaml:"cors" envconfig:"CORS"`
}

// ServerConfig contains the control-plane HTTP server configuration
type ServerConfig struct {
	Host         string `yaml:"host" split_words:"true"`
	Port         int    `yaml:"port" split_words:"true"`
	ReadTimeout  int    `yaml:"read_timeout" split_words:"true"`  // seconds
	WriteTimeout int    `yaml:"write_timeout" split_words:"true"` // seconds
}

// PeerConfig contains defaults applied to peers started without explicit transports
type PeerConfig struct {
	DefaultHost     string `yaml:"default_host" split_words:"true"`
	DefaultPort     int    `yaml:"default_port" split_words:"true"`
	DefaultBasePath string `yaml:"default_base_path" split_words:"true"`
	AutoRegister    bool   `yaml:"auto_register" split_words:"true"`
}

// MongoDBConfig contains MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string `yaml:"uri" split_words:"true"`
	Database string `yaml:"database" split_words:"true"`
	Timeout  int    `yaml:"timeout" split_words:"true"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" split_words:"true"`  // debug, info, warn, error
	Format string `yaml:"format" split_words:"true"` // json, text
}

// AuthConfig contains control-plane authentication configuration.
// An empty JWTSecret disables authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" split_words:"true"`
	Issuer    string `yaml:"issuer" split_words:"true"`
}

// Enabled reports whether control-plane requests must carry a token
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// RateLimitConfig contains control-plane rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" split_words:"true"`
	RequestsPerSecond float64 `yaml:"requests_per_second" split_words:"true"`
	Burst             int     `yaml:"burst" split_words:"true"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" split_words:"true"`
	Namespace string `yaml:"namespace" split_words:"true"`
	Path      string `yaml:"path" split_words:"true"`
}

// CORSConfig contains CORS settings for the control-plane router
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
	AllowedMethods []string `yaml:"allowed_methods" split_words:"true"`
	AllowedHeaders []string `yaml:"allowed_headers" split_words:"true"`
	MaxAge         int      `yaml:"max_age" split_words:"true"` // seconds
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Load from YAML file if provided (overrides defaults)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading files or environment
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         7070,
			ReadTimeout:  15,
			WriteTimeout: 30,
		},
		Peer: PeerConfig{
			DefaultHost:     "0.0.0.0",
			DefaultPort:     3000,
			DefaultBasePath: "/api",
			AutoRegister:    true,
		},
		MongoDB: MongoDBConfig{
			URI:      "mongodb://localhost:27017",
			Database: "test",
			Timeout:  10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			Issuer: "server-mongo",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "server_mongo",
			Path:      "/metrics",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
			MaxAge:         43200,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Peer.DefaultPort < 0 || c.Peer.DefaultPort > 65535 {
		return fmt.Errorf("invalid peer default port: %d", c.Peer.DefaultPort)
	}

	if c.Peer.DefaultBasePath != "" && c.Peer.DefaultBasePath[0] != '/' {
		return fmt.Errorf("peer default_base_path must start with '/': %q", c.Peer.DefaultBasePath)
	}

	if c.MongoDB.URI == "" {
		return fmt.Errorf("mongodb uri is required")
	}

	if c.MongoDB.Timeout < 0 {
		return fmt.Errorf("invalid mongodb timeout: %d", c.MongoDB.Timeout)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1) {
		return fmt.Errorf("rate_limit requires requests_per_second > 0 and burst >= 1")
	}

	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		return fmt.Errorf("metrics path must start with '/': %q", c.Metrics.Path)
	}

	return nil
}

// Address returns the server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

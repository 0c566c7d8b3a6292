// ABOUTME: Configuration loading and parsing for switchboard
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete switchboard configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Queue    QueueConfig    `yaml:"queue"`
	Routing  RoutingConfig  `yaml:"routing"`
	Classify ClassifyConfig `yaml:"classify"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP/WebSocket server configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	WriteTimeout    time.Duration `yaml:"-"`
	ShutdownTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	WriteTimeoutRaw    string `yaml:"write_timeout"`
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	TokenLifetime    time.Duration `yaml:"-"`
	TokenLifetimeRaw string        `yaml:"token_lifetime"`
}

// QueueConfig holds queue behavior configuration
type QueueConfig struct {
	MinutesPerConversation int `yaml:"minutes_per_conversation"`
	AssignRetries          int `yaml:"assign_retries"`

	MaxWait       time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	MaxWaitRaw       string `yaml:"max_wait"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// RoutingConfig holds scorer configuration
type RoutingConfig struct {
	// KeywordTable optionally points at a YAML file of skill category
	// overrides for the message analyzer
	KeywordTable string `yaml:"keyword_table"`

	HistoryCacheTTL    time.Duration `yaml:"-"`
	HistoryCacheTTLRaw string        `yaml:"history_cache_ttl"`
}

// ClassifyConfig holds classification pipeline configuration
type ClassifyConfig struct {
	LLMEnabled bool   `yaml:"llm_enabled"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
}

// NotifyConfig holds event publishing configuration
type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Auth.TokenLifetime == 0 {
		c.Auth.TokenLifetime = 12 * time.Hour
	}
	if c.Queue.MinutesPerConversation == 0 {
		c.Queue.MinutesPerConversation = 5
	}
	if c.Queue.AssignRetries == 0 {
		c.Queue.AssignRetries = 3
	}
	if c.Queue.MaxWait == 0 {
		c.Queue.MaxWait = 30 * time.Minute
	}
	if c.Queue.SweepInterval == 0 {
		c.Queue.SweepInterval = time.Minute
	}
	if c.Routing.HistoryCacheTTL == 0 {
		c.Routing.HistoryCacheTTL = 5 * time.Minute
	}
	if c.Classify.Model == "" {
		c.Classify.Model = "claude-sonnet-4-5-20250929"
	}
	if c.Notify.Exchange == "" {
		c.Notify.Exchange = "switchboard.events"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Classify.LLMEnabled && c.Classify.APIKey == "" {
		return fmt.Errorf("classify.api_key is required when classify.llm_enabled is true")
	}
	if c.Notify.Enabled && c.Notify.AMQPURL == "" {
		return fmt.Errorf("notify.amqp_url is required when notify.enabled is true")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Server.WriteTimeoutRaw, &cfg.Server.WriteTimeout, "server.write_timeout"},
		{cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout, "server.shutdown_timeout"},
		{cfg.Auth.TokenLifetimeRaw, &cfg.Auth.TokenLifetime, "auth.token_lifetime"},
		{cfg.Queue.MaxWaitRaw, &cfg.Queue.MaxWait, "queue.max_wait"},
		{cfg.Queue.SweepIntervalRaw, &cfg.Queue.SweepInterval, "queue.sweep_interval"},
		{cfg.Routing.HistoryCacheTTLRaw, &cfg.Routing.HistoryCacheTTL, "routing.history_cache_ttl"},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

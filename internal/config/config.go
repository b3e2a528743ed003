// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ipishield/ipishield/internal/notify"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	TLSCert         string `yaml:"tls_cert"`
	TLSKey          string `yaml:"tls_key"`
}

// RedisConfig holds the audit store backend settings. An empty Addr
// keeps the audit trail in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"` // plain value or $ENV_VAR reference
	DB       int    `yaml:"db"`
}

// LLMConfig holds the upstream completion provider. An empty APIKey
// selects the simulated provider.
type LLMConfig struct {
	APIKey     string `yaml:"api_key"` // plain value or $ENV_VAR reference
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// SanitizationConfig holds sanitiser defaults.
type SanitizationConfig struct {
	DefaultMode    string   `yaml:"default_mode"`
	CustomPatterns []string `yaml:"custom_patterns"`
}

// RateLimitConfig holds per-client throttling settings.
type RateLimitConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxRequests int  `yaml:"max_requests"`
	WindowSec   int  `yaml:"window_sec"`
}

// Config is the top-level YAML configuration.
type Config struct {
	Server       ServerConfig         `yaml:"server"`
	Redis        RedisConfig          `yaml:"redis"`
	LLM          LLMConfig            `yaml:"llm"`
	Sanitization SanitizationConfig   `yaml:"sanitization"`
	RateLimit    RateLimitConfig      `yaml:"rate_limit"`
	LogLevel     string               `yaml:"log_level"`
	Webhooks     []notify.Destination `yaml:"webhooks"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8000",
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 120,
		},
		LLM: LLMConfig{
			Model:      "gpt-4-simulated",
			TimeoutSec: 30,
		},
		Sanitization: SanitizationConfig{
			DefaultMode: "BALANCED",
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			MaxRequests: 60,
			WindowSec:   60,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from a YAML file. An empty path returns the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.applyEnv()
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(string(data))
}

// Parse parses configuration from a YAML string.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Resolve $ENV_VAR references in secrets.
	cfg.LLM.APIKey = resolveEnvRef(cfg.LLM.APIKey)
	cfg.Redis.Password = resolveEnvRef(cfg.Redis.Password)
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].Secret = resolveEnvRef(cfg.Webhooks[i].Secret)
	}

	cfg.applyEnv()

	if cfg.Server.ListenAddr == "" {
		return nil, fmt.Errorf("server: missing listen_addr")
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.MaxRequests <= 0 {
		return nil, fmt.Errorf("rate_limit: max_requests must be positive")
	}
	for i, wh := range cfg.Webhooks {
		if wh.URL == "" {
			return nil, fmt.Errorf("webhook %d: missing url", i)
		}
	}

	return cfg, nil
}

// applyEnv layers environment variables over the loaded values.
// Environment wins over the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SHIELD_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func resolveEnvRef(v string) string {
	if len(v) > 1 && v[0] == '$' {
		return os.Getenv(v[1:])
	}
	return v
}

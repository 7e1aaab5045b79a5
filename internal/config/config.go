// Package config loads server configuration: defaults, then an optional
// YAML file, then environment variables on top. Environment wins, so a
// deployment can override a checked-in file without editing it.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds everything the server and the bundled adapters need.
type Config struct {
	ServerName    string `env:"AGENT_SERVER_NAME" yaml:"server_name"`
	ServerVersion string `env:"AGENT_SERVER_VERSION" yaml:"server_version"`

	// RepoRoot is the working tree the search and mapping tools operate on.
	RepoRoot string `env:"AGENT_REPO_ROOT" yaml:"repo_root"`

	// GitHub context adapter. The adapter is only registered when
	// GitHubRepo ("owner/name") is set.
	GitHubRepo     string `env:"AGENT_GITHUB_REPO" yaml:"github_repo"`
	GitHubAPIBase  string `env:"AGENT_GITHUB_API" yaml:"github_api"`
	GitHubToken    string `env:"GITHUB_TOKEN" yaml:"github_token"`
	GitHubTokenURL string `env:"AGENT_GITHUB_TOKEN_URL" yaml:"github_token_url"`
	APITimeoutSec  int    `env:"AGENT_API_TIMEOUT" yaml:"api_timeout"`

	// Per-tool token bucket defaults.
	RateCapacity float64 `env:"AGENT_RATE_CAPACITY" yaml:"rate_capacity"`
	RateRefill   float64 `env:"AGENT_RATE_REFILL" yaml:"rate_refill"`

	// ToolTimeoutSec bounds one adapter execution; 0 disables the deadline.
	ToolTimeoutSec int `env:"AGENT_TOOL_TIMEOUT" yaml:"tool_timeout"`

	// DrainTimeoutSec bounds how long Stop waits for in-flight calls.
	DrainTimeoutSec int `env:"AGENT_DRAIN_TIMEOUT" yaml:"drain_timeout"`

	LogLevel string `env:"AGENT_LOG_LEVEL" yaml:"log_level"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		ServerName:      "dev-agent",
		ServerVersion:   "0.1.4",
		RepoRoot:        ".",
		GitHubAPIBase:   "https://api.github.com",
		APITimeoutSec:   30,
		RateCapacity:    10,
		RateRefill:      1,
		ToolTimeoutSec:  60,
		DrainTimeoutSec: 5,
		LogLevel:        "info",
	}
}

// Load reads the optional YAML file at path (empty skips it), applies
// environment variables on top, then validates.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RateCapacity <= 0 {
		return fmt.Errorf("AGENT_RATE_CAPACITY must be > 0, got %v", c.RateCapacity)
	}
	if c.RateRefill <= 0 {
		return fmt.Errorf("AGENT_RATE_REFILL must be > 0, got %v", c.RateRefill)
	}
	if c.RepoRoot == "" {
		return fmt.Errorf("AGENT_REPO_ROOT is required")
	}
	if c.GitHubRepo != "" && c.GitHubToken == "" && c.GitHubTokenURL == "" {
		return fmt.Errorf("AGENT_GITHUB_REPO is set but neither GITHUB_TOKEN nor AGENT_GITHUB_TOKEN_URL is")
	}
	return nil
}

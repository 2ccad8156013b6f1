// Package config loads engine configuration from YAML files, .env files,
// and DEVPULSE_-prefixed environment variables, in rising precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	// Storage configuration
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// GitLab source configuration
	GitLab GitLabConfig `yaml:"gitlab" mapstructure:"gitlab"`

	// Collector behavior
	Collector CollectorConfig `yaml:"collector" mapstructure:"collector"`

	// Inference rules file (optional; built-ins apply when empty)
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`

	// Export output directory
	ExportDir string `yaml:"export_dir" mapstructure:"export_dir"`

	// Logging
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

type StorageConfig struct {
	Type        string `yaml:"type" mapstructure:"type"` // "postgres", "sqlite"
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	LocalPath   string `yaml:"local_path" mapstructure:"local_path"`
}

type GitLabConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Token     string `yaml:"token" mapstructure:"token"`
	Group     string `yaml:"group" mapstructure:"group"`      // empty: all membership projects
	RateLimit int    `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

type CollectorConfig struct {
	Overlap     time.Duration `yaml:"overlap" mapstructure:"overlap"`
	WindowDays  int           `yaml:"window_days" mapstructure:"window_days"`
	Workers     int           `yaml:"workers" mapstructure:"workers"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(homeDir, ".devpulse", "local.db"),
		},
		GitLab: GitLabConfig{
			BaseURL:   "https://gitlab.com",
			RateLimit: 5,
		},
		Collector: CollectorConfig{
			Overlap:     time.Hour,
			WindowDays:  14,
			MaxAttempts: 5,
		},
		ExportDir: "outputs",
		LogLevel:  "info",
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("gitlab", cfg.GitLab)
	v.SetDefault("collector", cfg.Collector)
	v.SetDefault("rules_path", cfg.RulesPath)
	v.SetDefault("export_dir", cfg.ExportDir)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix("DEVPULSE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".devpulse")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".devpulse"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine, defaults apply.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}
}

// applyEnvOverrides applies well-known environment variables on top of
// whatever the file provided.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEVPULSE_GITLAB_URL"); v != "" {
		cfg.GitLab.BaseURL = v
	}
	if v := os.Getenv("DEVPULSE_GITLAB_TOKEN"); v != "" {
		cfg.GitLab.Token = v
	}
	if v := os.Getenv("DEVPULSE_GITLAB_GROUP"); v != "" {
		cfg.GitLab.Group = v
	}
	if v := os.Getenv("DEVPULSE_POSTGRES_DSN"); v != "" {
		cfg.Storage.Type = "postgres"
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("DEVPULSE_WINDOW_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.Collector.WindowDays = days
		}
	}
	if v := os.Getenv("DEVPULSE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("storage.local_path required for sqlite storage")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.GitLab.BaseURL == "" {
		return fmt.Errorf("gitlab.base_url must not be empty")
	}
	return nil
}

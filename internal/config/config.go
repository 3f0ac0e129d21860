// Package config loads the optional gateway configuration file
// (jadegate.yaml) with environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the gateway-level configuration. The security policy itself
// lives in its own JSON file (PolicyPath); this covers the ambient knobs.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	// PolicyPath points at a jadegate_policy JSON file. Empty uses the
	// built-in defaults.
	PolicyPath string `mapstructure:"policy_path"`

	// TrustDir overrides the trust store location.
	TrustDir string `mapstructure:"trust_dir"`

	// AuditLogPath enables the JSONL audit sink when set.
	AuditLogPath string `mapstructure:"audit_log_path"`

	// ResponseTimeoutSec is the per-response wait for gated requests.
	ResponseTimeoutSec int `mapstructure:"response_timeout_sec" validate:"gte=1"`

	// UpstreamEnv is layered over the environment of spawned servers.
	UpstreamEnv map[string]string `mapstructure:"upstream_env"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:           "info",
		ResponseTimeoutSec: 10,
	}
}

// Load reads jadegate.yaml from the given path, or from ~/.jadegate and the
// working directory when path is empty. A missing file is not an error;
// defaults and JADEGATE_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("JADEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("response_timeout_sec", def.ResponseTimeoutSec)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jadegate")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".jadegate"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps the configured level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package config loads the bridge configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "15s" or plain integers (seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if parsed, err := time.ParseDuration(value.Value); err == nil {
		*d = Duration(parsed)
		return nil
	}
	secs, err := strconv.Atoi(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration of the bridge.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Motion   MotionConfig   `yaml:"motion"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AuditFile       string   `yaml:"audit_file"`
}

// DatabaseConfig selects the persistence backend. An empty DSN runs the
// bridge on the in-memory store.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// LoggingConfig mirrors pkg/logger.LoggingConfig.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// MotionConfig tunes gateway polling and the optional Redis event mirror.
type MotionConfig struct {
	DefaultPollInterval Duration `yaml:"default_poll_interval"`
	RedisURL            string   `yaml:"redis_url"`
	RefreshSchedule     string   `yaml:"refresh_schedule"`
	SweepSchedule       string   `yaml:"sweep_schedule"`
}

// AuthConfig carries API credentials. APIKeyHashes are bcrypt hashes of the
// accepted X-API-Key values.
type AuthConfig struct {
	APIKeyHashes []string `yaml:"api_key_hashes"`
	JWTSecret    string   `yaml:"jwt_secret"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{MaxOpenConns: 10},
		Logging:  LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Motion:   MotionConfig{DefaultPollInterval: Duration(900 * time.Second)},
	}
}

// Load reads path when it exists, then applies environment overrides. A
// missing file is not an error; the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.Motion.DefaultPollInterval <= 0 {
		cfg.Motion.DefaultPollInterval = Duration(900 * time.Second)
	}
	return cfg, nil
}

// applyEnv folds BRIDGE_* environment variables over the file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BRIDGE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("BRIDGE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("BRIDGE_REDIS_URL"); v != "" {
		cfg.Motion.RedisURL = v
	}
	if v := os.Getenv("BRIDGE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Motion.DefaultPollInterval = Duration(d)
		} else if secs, err := strconv.Atoi(v); err == nil {
			cfg.Motion.DefaultPollInterval = Duration(time.Duration(secs) * time.Second)
		}
	}
	if v := os.Getenv("BRIDGE_API_KEY_HASHES"); v != "" {
		hashes := strings.Split(v, ",")
		for i := range hashes {
			hashes[i] = strings.TrimSpace(hashes[i])
		}
		cfg.Auth.APIKeyHashes = hashes
	}
	if v := os.Getenv("BRIDGE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("BRIDGE_AUDIT_FILE"); v != "" {
		cfg.Server.AuditFile = v
	}
}

// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Backend names
const (
	BackendNative   = "native"
	BackendOpencode = "opencode"
)

type RetryConfig struct {
	Attempts    int `yaml:"attempts" toml:"attempts"`
	BaseDelayMs int `yaml:"base_delay_ms" toml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms" toml:"max_delay_ms"`
}

type OpencodeConfig struct {
	Port       int    `yaml:"port" toml:"port"`
	Binary     string `yaml:"binary,omitempty" toml:"binary"`
	Autostart  bool   `yaml:"autostart" toml:"autostart"`
	Directory  string `yaml:"directory,omitempty" toml:"directory"`
	ProviderID string `yaml:"provider_id,omitempty" toml:"provider_id"`
	ModelID    string `yaml:"model_id,omitempty" toml:"model_id"`
}

type Config struct {
	Server              string         `yaml:"server,omitempty" toml:"server"`
	Backend             string         `yaml:"backend,omitempty" toml:"backend"`
	LogLevel            string         `yaml:"log_level,omitempty" toml:"log_level"`
	TitleRefreshDelayMs int            `yaml:"title_refresh_delay_ms" toml:"title_refresh_delay_ms"`
	RequestTimeoutSecs  int            `yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	ExportDir           string         `yaml:"export_dir,omitempty" toml:"export_dir"`
	Retry               RetryConfig    `yaml:"retry" toml:"retry"`
	Opencode            OpencodeConfig `yaml:"opencode" toml:"opencode"`
}

// Load reads the config at path, or the default path when empty
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables in config
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if strings.HasSuffix(path, ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = BackendNative
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TitleRefreshDelayMs == 0 {
		cfg.TitleRefreshDelayMs = 1500
	}
	if cfg.RequestTimeoutSecs == 0 {
		cfg.RequestTimeoutSecs = 30
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Retry.BaseDelayMs == 0 {
		cfg.Retry.BaseDelayMs = 1000
	}
	if cfg.Retry.MaxDelayMs == 0 {
		cfg.Retry.MaxDelayMs = 10000
	}
	if cfg.Opencode.Port == 0 {
		cfg.Opencode.Port = 4096
	}
	if cfg.Opencode.Binary == "" {
		cfg.Opencode.Binary = "opencode"
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("INEFFABLE_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("INEFFABLE_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("INEFFABLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate rejects values no component can run with
func (c *Config) Validate() error {
	if c.Backend != BackendNative && c.Backend != BackendOpencode {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) TitleRefreshDelay() time.Duration {
	return time.Duration(c.TitleRefreshDelayMs) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

func (c *Config) OpencodeURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.Opencode.Port)
}

func ConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		configDir, _ = os.UserConfigDir()
	}
	if configDir == "" {
		configDir = os.ExpandEnv("$HOME/.config")
	}
	return filepath.Join(configDir, "ineffable", "config.yaml")
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLogLevel installs the process-wide logger writing text lines to w
func SetLogLevel(level string, w io.Writer) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/schovi/devcontrol/internal/policy"
)

// Config is the complete devcontrol configuration
type Config struct {
	Shell    ShellConfig    `mapstructure:"shell"`
	Security SecurityConfig `mapstructure:"security"`
	Session  SessionConfig  `mapstructure:"session"`
	Process  ProcessConfig  `mapstructure:"process"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ShellConfig controls how commands are launched
type ShellConfig struct {
	// Default is the shell used when a request names none. Empty falls back
	// to $SHELL, then /bin/sh.
	Default string `mapstructure:"default"`
	// PTY runs commands on a pseudo-terminal unless the request says otherwise
	PTY     bool `mapstructure:"pty"`
	PTYCols int  `mapstructure:"pty_cols"`
	PTYRows int  `mapstructure:"pty_rows"`
	// Env holds KEY=VALUE pairs added to the environment of every command
	Env []string `mapstructure:"env"`
}

// SecurityConfig restricts what may be launched and where
type SecurityConfig struct {
	BlockedCommands []string `mapstructure:"blocked_commands"`
	// AllowedDirectories limits working directories. Empty allows any.
	AllowedDirectories []string `mapstructure:"allowed_directories"`
}

type SessionConfig struct {
	DefaultTimeoutMs int `mapstructure:"default_timeout_ms"`
	GracePeriodMs    int `mapstructure:"grace_period_ms"`
	// RetentionMinutes is how long ended sessions stay listed. 0 keeps
	// them forever.
	RetentionMinutes     int   `mapstructure:"retention_minutes"`
	MaxOutputBytes       int64 `mapstructure:"max_output_bytes"`
	SweepIntervalSeconds int   `mapstructure:"sweep_interval_seconds"`
}

type ProcessConfig struct {
	// ListLimit caps list_processes results. 0 means unlimited.
	ListLimit int `mapstructure:"list_limit"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File receives log output instead of stderr when set
	File string `mapstructure:"file"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Shell: ShellConfig{
			PTYCols: 200,
			PTYRows: 50,
			Env:     []string{},
		},
		Security: SecurityConfig{
			BlockedCommands:    append([]string(nil), policy.DefaultBlockedCommands...),
			AllowedDirectories: []string{},
		},
		Session: SessionConfig{
			DefaultTimeoutMs:     30000,
			GracePeriodMs:        500,
			RetentionMinutes:     60,
			MaxOutputBytes:       10 * 1024 * 1024,
			SweepIntervalSeconds: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func (c *SessionConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

func (c *SessionConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMs) * time.Millisecond
}

func (c *SessionConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

func (c *SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("shell.default", defaults.Shell.Default)
	viper.SetDefault("shell.pty", defaults.Shell.PTY)
	viper.SetDefault("shell.pty_cols", defaults.Shell.PTYCols)
	viper.SetDefault("shell.pty_rows", defaults.Shell.PTYRows)
	viper.SetDefault("shell.env", defaults.Shell.Env)

	viper.SetDefault("security.blocked_commands", defaults.Security.BlockedCommands)
	viper.SetDefault("security.allowed_directories", defaults.Security.AllowedDirectories)

	viper.SetDefault("session.default_timeout_ms", defaults.Session.DefaultTimeoutMs)
	viper.SetDefault("session.grace_period_ms", defaults.Session.GracePeriodMs)
	viper.SetDefault("session.retention_minutes", defaults.Session.RetentionMinutes)
	viper.SetDefault("session.max_output_bytes", defaults.Session.MaxOutputBytes)
	viper.SetDefault("session.sweep_interval_seconds", defaults.Session.SweepIntervalSeconds)

	viper.SetDefault("process.list_limit", defaults.Process.ListLimit)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.format", defaults.Logging.Format)
	viper.SetDefault("logging.file", defaults.Logging.File)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Watch calls onChange with the reloaded configuration whenever the config
// file changes. Invalid edits are passed to onError and otherwise ignored.
func Watch(onChange func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "devcontrol")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devcontrol"
	}
	return filepath.Join(home, ".config", "devcontrol")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

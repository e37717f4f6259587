// Package config loads LocalGhost's settings from an on-disk config.yaml,
// environment variables (LOCALGHOST_ prefix), and CLI flags, in that order
// of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment variable prefix bound by viper for every
// setting below (e.g. LOCALGHOST_PORT).
const EnvPrefix = "LOCALGHOST"

// Settings holds the kernel's runtime configuration.
type Settings struct {
	AppName string `yaml:"app_name" mapstructure:"app_name"`

	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`

	TokenExpiryHours          int `yaml:"token_expiry_hours" mapstructure:"token_expiry_hours"`
	ConsentTimeoutSeconds     int `yaml:"consent_timeout_seconds" mapstructure:"consent_timeout_seconds"`
	DefaultGrantDurationHours int `yaml:"default_grant_duration_hours" mapstructure:"default_grant_duration_hours"`

	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
	DBName  string `yaml:"db_name" mapstructure:"db_name"`
}

// Defaults returns the settings baseline described in spec §6, before any
// config file, environment, or flag overrides are applied.
func Defaults() Settings {
	return Settings{
		AppName:                   "LocalGhost",
		Host:                      "127.0.0.1",
		Port:                      8473,
		TokenExpiryHours:          24,
		ConsentTimeoutSeconds:     60,
		DefaultGrantDurationHours: 8,
		DataDir:                   defaultDataDir("LocalGhost"),
		DBName:                    "localghost.db",
	}
}

// defaultDataDir computes a per-user data directory: $XDG_DATA_HOME/<app>
// when XDG_DATA_HOME is set, otherwise ~/.local/share/<app>. The same rule
// applies on every OS; there is no macOS- or Windows-specific location.
// The teacher repo has no equivalent of Python's platformdirs in its
// dependency graph, so this is implemented directly against os.UserHomeDir
// (see DESIGN.md: standard-library justification).
func defaultDataDir(appName string) string {
	switch {
	case os.Getenv("XDG_DATA_HOME") != "":
		return filepath.Join(os.Getenv("XDG_DATA_HOME"), appName)
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		return filepath.Join(home, ".local", "share", appName)
	}
}

// Load reads config.yaml at path (if it exists), layers environment
// variables with the LOCALGHOST_ prefix, and returns the merged settings.
// Flags are expected to have already been bound into v via viper.BindPFlag
// by the caller (see cmd/localghostd).
func Load(v *viper.Viper, path string) (Settings, error) {
	defaults := Defaults()

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	setViperDefaults(v, defaults)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return s, nil
}

func setViperDefaults(v *viper.Viper, d Settings) {
	v.SetDefault("app_name", d.AppName)
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("token_expiry_hours", d.TokenExpiryHours)
	v.SetDefault("consent_timeout_seconds", d.ConsentTimeoutSeconds)
	v.SetDefault("default_grant_duration_hours", d.DefaultGrantDurationHours)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("db_name", d.DBName)
}

// WriteExample writes an example config.yaml holding the default settings
// to path, for
// `localghostd config init`.
func WriteExample(path string) error {
	s := Defaults()
	b, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DBPath returns the full path to the permission database.
func (s Settings) DBPath() string {
	return filepath.Join(s.DataDir, s.DBName)
}

// SecretPath returns the full path to the persisted token secret key.
func (s Settings) SecretPath() string {
	return filepath.Join(s.DataDir, ".secret")
}

// PortFilePath returns the full path to the advisory port file.
func (s Settings) PortFilePath() string {
	return filepath.Join(s.DataDir, ".port")
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	d := Defaults()
	assert.Equal(t, "127.0.0.1", d.Host)
	assert.Equal(t, 8473, d.Port)
	assert.Equal(t, 24, d.TokenExpiryHours)
	assert.Equal(t, 60, d.ConsentTimeoutSeconds)
	assert.Equal(t, 8, d.DefaultGrantDurationHours)
	assert.Equal(t, "localghost.db", d.DBName)
}

func TestLoadWithoutConfigFile(t *testing.T) {
	t.Parallel()

	v := viper.New()
	s, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Port, s.Port)
}

func TestLoadFromConfigFile(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	override := Settings{Port: 9999, Host: "0.0.0.0", TokenExpiryHours: 1}
	b, err := yaml.Marshal(&override)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, b, 0o600))

	v := viper.New()
	s, err := Load(v, configPath)
	require.NoError(t, err)
	assert.Equal(t, 9999, s.Port)
	assert.Equal(t, "0.0.0.0", s.Host)
	assert.Equal(t, 1, s.TokenExpiryHours)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("LOCALGHOST_PORT", "1234")

	v := viper.New()
	s, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 1234, s.Port)
}

func TestSettingsPaths(t *testing.T) {
	t.Parallel()

	s := Settings{DataDir: "/tmp/localghost-test", DBName: "perm.db"}
	assert.Equal(t, "/tmp/localghost-test/perm.db", s.DBPath())
	assert.Equal(t, "/tmp/localghost-test/.secret", s.SecretPath())
	assert.Equal(t, "/tmp/localghost-test/.port", s.PortFilePath())
}

func TestWriteExample(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "sub", "config.yaml")
	require.NoError(t, WriteExample(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

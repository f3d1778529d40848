// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaultsWhenConfigIsMinimal(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("logLevel = \"DEBUG\"\n"), 0o644))

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 7475, cfg.WebPort)
	assert.True(t, cfg.SpiderEnabled)
	assert.Equal(t, 10_000, cfg.SpiderMaxKnownNodes)
	assert.Equal(t, 64, cfg.EnrichMaxConcurrent)
	assert.True(t, cfg.CleanupEnabled)
	assert.Equal(t, 86400, cfg.TorrentTTLSecs)
	assert.True(t, cfg.MetricsEnabled)
}

func TestNewCreatesDefaultConfigFileWhenAbsent(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	_, err := os.Stat(configPath)
	require.True(t, os.IsNotExist(err))

	cfg, err := New(configPath)
	require.NoError(t, err)
	assert.Equal(t, configPath, cfg.Path())

	_, err = os.Stat(configPath)
	require.NoError(t, err, "New must write a default config file on first run")
}

func TestNewResolvesDataDirRelativeToConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`dataDir = "state"`), 0o644))

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmpDir, "state"), cfg.GetDataDir())
}

func TestEnvironmentVariableOverridesConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`webPort = 8080`), 0o644))

	os.Setenv("INFOHOUND__WEB_PORT", "9090")
	defer os.Unsetenv("INFOHOUND__WEB_PORT")

	cfg, err := New(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.WebPort)
}

func TestEnvironmentVariableOverridesNestedSection(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[spider]\nenabled = true\n"), 0o644))

	os.Setenv("INFOHOUND__SPIDER_ENABLED", "false")
	defer os.Unsetenv("INFOHOUND__SPIDER_ENABLED")

	cfg, err := New(configPath)
	require.NoError(t, err)
	assert.False(t, cfg.SpiderEnabled)
}

func TestNewRejectsNothingOnMalformedTOMLButSurfacesError(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("this is not = = toml"), 0o644))

	_, err := New(configPath)
	assert.Error(t, err)
}

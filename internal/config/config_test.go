// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/gamedrop/internal/domain"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDatabasePathResolution(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, tmpDir string) (configPath string, envDataDir string, expectedDBPath string)
	}{
		{
			name: "default_next_to_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := writeConfig(t, tmpDir, "host = \"localhost\"\nport = 8080\nencryptionSecret = \"test-secret\"\n")
				return configPath, "", filepath.Join(tmpDir, "gamedrop.db")
			},
		},
		{
			name: "explicit_data_dir_in_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				dataDir := filepath.Join(tmpDir, "data")
				configPath := writeConfig(t, tmpDir, fmt.Sprintf("host = \"localhost\"\nport = 8080\ndataDir = %q\n", dataDir))
				return configPath, "", filepath.Join(dataDir, "gamedrop.db")
			},
		},
		{
			name: "env_var_override",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configDataDir := filepath.Join(tmpDir, "config-data")
				envDataDir := filepath.Join(tmpDir, "env-data")
				configPath := writeConfig(t, tmpDir, fmt.Sprintf("host = \"localhost\"\nport = 8080\ndataDir = %q\n", configDataDir))
				return configPath, envDataDir, filepath.Join(envDataDir, "gamedrop.db")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath, envValue, expectedDBPath := tt.prepare(t, tmpDir)
			if envValue != "" {
				t.Setenv(envPrefix+"DATA_DIR", envValue)
			}

			cfg, err := New(configPath)
			require.NoError(t, err)

			assert.Equal(t, filepath.Clean(expectedDBPath), filepath.Clean(cfg.GetDatabasePath()))
		})
	}
}

func TestDownloadAndInstallDirs(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := New(writeConfig(t, tmpDir, "port = 8080\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "downloads"), cfg.GetDownloadDir())
	assert.Equal(t, filepath.Join(tmpDir, "games"), cfg.GetInstallDir())

	t.Setenv(envPrefix+"INSTALL_DIR", "/srv/games")
	cfg, err = New(filepath.Join(tmpDir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/games", cfg.GetInstallDir())
}

func TestNewWritesDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.toml")

	cfg, err := New(configPath)
	require.NoError(t, err)

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "encryptionSecret = ")
	assert.Equal(t, 7480, cfg.Config.Port)
	assert.Len(t, cfg.Config.EncryptionSecret, encryptionKeySize*2)
	assert.Equal(t, 15, cfg.Config.MaxBatchSize)
	assert.Equal(t, "https://api.real-debrid.com/rest/1.0", cfg.Config.DebridBaseURL)
}

func TestGenerateSecureTokenHexOutput(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{name: "standard_32_bytes", length: 32},
		{name: "small_token", length: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := generateSecureToken(tt.length)
			require.NoError(t, err)

			assert.Len(t, token, tt.length*2)
			_, err = hex.DecodeString(token)
			require.NoError(t, err)
		})
	}
}

func TestGetEncryptionKey(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{name: "long_secret", secret: strings.Repeat("a", encryptionKeySize+8)},
		{name: "short_secret", secret: "short"},
		{name: "empty_secret", secret: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &AppConfig{Config: &domain.Config{EncryptionSecret: tt.secret}}

			key := cfg.GetEncryptionKey()
			require.Len(t, key, encryptionKeySize)

			want := sha256.Sum256([]byte(tt.secret))
			assert.Equal(t, want[:], key)
		})
	}
}

func TestConfigDirResolution(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		setupFile      bool
		fileIsDir      bool
		expectedSuffix string
	}{
		{name: "toml_file_extension", input: "/path/to/custom.toml", expectedSuffix: "custom.toml"},
		{name: "TOML_file_extension_uppercase", input: "/path/to/CONFIG.TOML", expectedSuffix: "CONFIG.TOML"},
		{name: "directory_path", input: "/path/to/config", expectedSuffix: "config.toml"},
		{name: "existing_file_without_toml", input: "/path/to/configfile", setupFile: true, expectedSuffix: "configfile"},
		{name: "existing_directory", input: "/path/to/configdir", setupFile: true, fileIsDir: true, expectedSuffix: "config.toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			inputPath := filepath.Join(tmpDir, filepath.Base(tt.input))

			if tt.setupFile {
				if tt.fileIsDir {
					require.NoError(t, os.MkdirAll(inputPath, 0o755))
				} else {
					require.NoError(t, os.WriteFile(inputPath, []byte("test"), 0o644))
				}
			}

			c := &AppConfig{}
			result := c.resolveConfigPath(inputPath)
			assert.True(t, strings.HasSuffix(result, tt.expectedSuffix),
				"Expected result %s to end with %s", result, tt.expectedSuffix)
		})
	}
}

func TestScoringTableAndEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, "port = 8080\n\n[scoring]\nseederCap = 250\nrepackBonus = 20\npreferredLanguages = [\"english\"]\n")

	t.Setenv(envPrefix+"SCORING__QUICK_PICK_THRESHOLD", "75")

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Config.Scoring.SeederCap)
	assert.InDelta(t, 20.0, cfg.Config.Scoring.RepackBonus, 0.001)
	assert.InDelta(t, 75.0, cfg.Config.Scoring.QuickPickThreshold, 0.001)
	assert.Equal(t, []string{"english"}, cfg.Config.Scoring.PreferredLanguages)
}

func TestBindOrReadFromFile(t *testing.T) {
	tmpKeyFile := func(t *testing.T, tmpDir string) string {
		path := filepath.Join(tmpDir, "key-file.txt")
		require.NoError(t, os.WriteFile(path, []byte("key-from-file\n"), 0o644))
		return path
	}
	noKeyFile := func(*testing.T, string) string { return "" }

	tests := []struct {
		name            string
		envVarValue     string
		envVarFileValue func(t *testing.T, tmpDir string) string
		expectedValue   string
	}{
		{name: "only_file_env_var", envVarFileValue: tmpKeyFile, expectedValue: "key-from-file"},
		{name: "only_plain_env_var", envVarValue: "key-not-from-file", envVarFileValue: noKeyFile, expectedValue: "key-not-from-file"},
		{name: "file_wins_over_plain", envVarValue: "key-not-from-file", envVarFileValue: tmpKeyFile, expectedValue: "key-from-file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envVar := envPrefix + "DEBRID_TOKEN"

			if tt.envVarValue != "" {
				t.Setenv(envVar, tt.envVarValue)
			}
			if path := tt.envVarFileValue(t, t.TempDir()); path != "" {
				t.Setenv(envVar+"_FILE", path)
			}

			cfg, err := New(writeConfig(t, t.TempDir(), "port = 8080\n"))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedValue, cfg.Config.DebridToken)
		})
	}
}

func TestReloadListeners(t *testing.T) {
	cfg := &AppConfig{Config: &domain.Config{LogLevel: "DEBUG"}}

	var got []string
	cfg.RegisterReloadListener(func(c *domain.Config) { got = append(got, c.LogLevel) })
	cfg.RegisterReloadListener(func(c *domain.Config) { c.LogLevel = "mutated" })
	cfg.RegisterReloadListener(func(c *domain.Config) { got = append(got, c.LogLevel) })

	cfg.notifyListeners()

	assert.Equal(t, []string{"DEBUG", "mutated"}, got)
	assert.Equal(t, "DEBUG", cfg.Config.LogLevel, "listeners receive a copy")
}

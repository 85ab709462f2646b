package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var overrideKeys = []string{
	"PORT", "STORAGE_TYPE", "SQLITE_PATH", "POSTGRES_URL", "POSTGRES_MAX_CONNS",
	"MONGODB_URL", "MONGODB_DATABASE", "LOG_FORMAT", "LOG_LEVEL",
	"METRICS_ENABLED", "METRICS_ENDPOINT",
	"TEST_RUNNER_NOCREATEDB_TABLE_PREFIX", "TEST_RUNNER_KEEP_TABLES",
	"PRODTEST_CONFIG",
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range overrideKeys {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	clearEnv(t)

	result, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.NoError(t, err)
	assert.Empty(t, result.Path)

	cfg := result.Config
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "data/prodtest.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, 10, cfg.Storage.PostgreSQL.MaxConns)
	assert.Equal(t, "prodtest", cfg.Storage.MongoDB.Database)
	assert.Equal(t, "/metrics", cfg.Metrics.Endpoint)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.TestRunner.TablePrefix)
	assert.False(t, cfg.TestRunner.KeepTables)
}

func TestLoadFile_MissingRequiredFile(t *testing.T) {
	clearEnv(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), true)
	require.ErrorContains(t, err, "failed to read")
}

func TestLoadFile_YAMLWithPlaceholders(t *testing.T) {
	clearEnv(t)
	t.Setenv("QA_PG_URL", "postgres://qa@localhost/qa")

	path := writeConfig(t, `
server:
  port: "${QA_PORT:-9000}"
storage:
  type: postgresql
  postgresql:
    url: "${QA_PG_URL}"
    max_conns: 4
test_runner:
  table_prefix: ci_
  keep_tables: true
`)
	result, err := LoadFile(path, true)
	require.NoError(t, err)
	assert.Equal(t, path, result.Path)

	cfg := result.Config
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "postgresql", cfg.Storage.Type)
	assert.Equal(t, "postgres://qa@localhost/qa", cfg.Storage.PostgreSQL.URL)
	assert.Equal(t, 4, cfg.Storage.PostgreSQL.MaxConns)
	assert.Equal(t, "ci_", cfg.TestRunner.TablePrefix)
	assert.True(t, cfg.TestRunner.KeepTables)
	// unset sections keep their defaults
	assert.Equal(t, "prodtest", cfg.Storage.MongoDB.Database)
}

func TestLoadFile_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7070")
	t.Setenv("SQLITE_PATH", ":memory:")
	t.Setenv("TEST_RUNNER_NOCREATEDB_TABLE_PREFIX", "env_")
	t.Setenv("TEST_RUNNER_KEEP_TABLES", "true")
	t.Setenv("METRICS_ENABLED", "1")
	t.Setenv("LOG_LEVEL", "debug")

	path := writeConfig(t, `
server:
  port: "9000"
test_runner:
  table_prefix: yaml_
`)
	result, err := LoadFile(path, true)
	require.NoError(t, err)

	cfg := result.Config
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Storage.SQLite.Path)
	assert.Equal(t, "env_", cfg.TestRunner.TablePrefix)
	assert.True(t, cfg.TestRunner.KeepTables)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFile_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bool", "TEST_RUNNER_KEEP_TABLES", "maybe", "invalid TEST_RUNNER_KEEP_TABLES"},
		{"int", "POSTGRES_MAX_CONNS", "ten", "invalid POSTGRES_MAX_CONNS"},
		{"storage type", "STORAGE_TYPE", "oracle", "unknown storage type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), false)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_RequiresURLs(t *testing.T) {
	cfg := buildDefaultConfig()
	cfg.Storage.Type = "postgresql"
	require.ErrorContains(t, cfg.Validate(), "POSTGRES_URL is required")

	cfg.Storage.Type = "mongodb"
	require.ErrorContains(t, cfg.Validate(), "MONGODB_URL is required")

	cfg.Storage.MongoDB.URL = "mongodb://localhost:27017"
	require.NoError(t, cfg.Validate())
}

func TestLoad_UsesProdtestConfigEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  port: \"6060\"\n")
	t.Setenv("PRODTEST_CONFIG", path)

	result, err := Load()
	require.NoError(t, err)
	assert.Equal(t, path, result.Path)
	assert.Equal(t, "6060", result.Config.Server.Port)
}

func TestExpandString(t *testing.T) {
	t.Setenv("QA_SET", "value")
	t.Setenv("QA_EMPTY", "")

	assert.Equal(t, "value", expandString("${QA_SET}"))
	assert.Equal(t, "value", expandString("${QA_SET:-other}"))
	assert.Equal(t, "fallback", expandString("${QA_EMPTY:-fallback}"))
	assert.Equal(t, "", expandString("${QA_NEVER_SET_123}"))
	assert.Equal(t, "a-b", expandString("${QA_NEVER_SET_123:-a}-b"))
	assert.Equal(t, "$HOME", expandString("$HOME"))
}

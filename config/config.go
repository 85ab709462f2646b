// Package config provides configuration management for the application.
//
// Values are layered: built-in defaults, then config.yaml (with ${VAR} and
// ${VAR:-default} placeholders expanded from the environment), then .env,
// then environment variables. Command-line flags override all of them.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"prodtest/internal/logging"
	"prodtest/internal/storage"
)

// DefaultConfigPath is read when PRODTEST_CONFIG is not set.
const DefaultConfigPath = "config.yaml"

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    storage.Config   `yaml:"storage"`
	Logging    logging.Config   `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	TestRunner TestRunnerConfig `yaml:"test_runner"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// TestRunnerConfig configures prefixed-table test runs
type TestRunnerConfig struct {
	// TablePrefix is the configured prefix (TEST_RUNNER_NOCREATEDB_TABLE_PREFIX)
	TablePrefix string `yaml:"table_prefix"`
	// KeepTables leaves prefixed tables in place after a run
	KeepTables bool `yaml:"keep_tables"`
}

// LoadResult is the outcome of Load.
type LoadResult struct {
	Config *Config
	// Path is the config file that was read, empty if none was found.
	Path string
}

// Load reads configuration from PRODTEST_CONFIG (or config.yaml), .env and
// the environment. A missing config file is not an error.
func Load() (*LoadResult, error) {
	path := os.Getenv("PRODTEST_CONFIG")
	required := path != ""
	if path == "" {
		path = DefaultConfigPath
	}
	return LoadFile(path, required)
}

// LoadFile loads configuration from path. When required is false a missing
// file falls back to defaults.
func LoadFile(path string, required bool) (*LoadResult, error) {
	// .env never overrides variables that are already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := buildDefaultConfig()
	result := &LoadResult{Config: cfg}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(expandString(string(raw))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		result.Path = path
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Storage: storage.Config{
			Type:       storage.TypeSQLite,
			SQLite:     storage.SQLiteConfig{Path: "data/prodtest.db"},
			PostgreSQL: storage.PostgreSQLConfig{MaxConns: 10},
			MongoDB:    storage.MongoDBConfig{Database: "prodtest"},
		},
		Metrics: MetricsConfig{Endpoint: "/metrics"},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case storage.TypeSQLite:
	case storage.TypePostgreSQL:
		if c.Storage.PostgreSQL.URL == "" {
			return fmt.Errorf("POSTGRES_URL is required when storage type is postgresql")
		}
	case storage.TypeMongoDB:
		if c.Storage.MongoDB.URL == "" {
			return fmt.Errorf("MONGODB_URL is required when storage type is mongodb")
		}
	default:
		return fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql, mongodb)", c.Storage.Type)
	}
	return nil
}

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default} with environment values.
// Unset variables without a default expand to the empty string.
func expandString(s string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholderRe.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(parts[1]); ok && v != "" {
			return v
		}
		return parts[3]
	})
}

func applyEnvOverrides(cfg *Config) error {
	setString("PORT", &cfg.Server.Port)

	setString("STORAGE_TYPE", &cfg.Storage.Type)
	setString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	if err := setInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns); err != nil {
		return err
	}
	setString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	setString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_LEVEL", &cfg.Logging.Level)

	if err := setBool("METRICS_ENABLED", &cfg.Metrics.Enabled); err != nil {
		return err
	}
	setString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	setString("TEST_RUNNER_NOCREATEDB_TABLE_PREFIX", &cfg.TestRunner.TablePrefix)
	return setBool("TEST_RUNNER_KEEP_TABLES", &cfg.TestRunner.KeepTables)
}

func setString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(key string, dst *bool) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodtest/internal/storage"
	"prodtest/internal/testrunner"
)

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-version"}, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "prodtest dev")
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage:")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"migrate"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `unknown command "migrate"`)
}

func TestRunTestsConfigErrors(t *testing.T) {
	dir := t.TempDir()
	memory := filepath.Join(dir, "memory.yaml")
	require.NoError(t, os.WriteFile(memory, []byte("storage:\n  type: sqlite\n  sqlite:\n    path: \":memory:\"\n"), 0o600))

	tests := []struct {
		name string
		args []string
	}{
		{"missing config file", []string{"test", "-config", filepath.Join(dir, "missing.yaml")}},
		{"unknown storage type", []string{"test", "-config", memory, "-storage-type", "oracle"}},
		{"in-memory sqlite", []string{"test", "-config", memory}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORAGE_TYPE", "")
			t.Setenv("SQLITE_PATH", "")
			t.Setenv("LOG_FORMAT", "json")
			var stdout, stderr bytes.Buffer
			assert.Equal(t, testrunner.ExitConfigError, run(tt.args, &stdout, &stderr))
		})
	}
}

func TestRunTestsBadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"test", "-no-such-flag"}, &stdout, &stderr))
}

func TestStorageEnv(t *testing.T) {
	assert.Equal(t,
		[]string{"STORAGE_TYPE=sqlite", "SQLITE_PATH=data/qa.db"},
		storageEnv(storage.Config{Type: storage.TypeSQLite, SQLite: storage.SQLiteConfig{Path: "data/qa.db"}}))

	assert.Equal(t,
		[]string{"STORAGE_TYPE=postgresql", "POSTGRES_URL=postgres://qa@db/app"},
		storageEnv(storage.Config{Type: storage.TypePostgreSQL, PostgreSQL: storage.PostgreSQLConfig{URL: "postgres://qa@db/app"}}))

	assert.Equal(t,
		[]string{"STORAGE_TYPE=mongodb", "MONGODB_URL=mongodb://db:27017", "MONGODB_DATABASE=app"},
		storageEnv(storage.Config{Type: storage.TypeMongoDB, MongoDB: storage.MongoDBConfig{URL: "mongodb://db:27017", Database: "app"}}))
}

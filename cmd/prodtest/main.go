// Package main runs `go test` against prefixed tables in an existing database,
// for environments where the test user cannot create databases.
//
// Usage:
//
//	prodtest test [-table-prefix qa_] [-keepdb] [-config config.yaml] [-storage-type sqlite] [go test args...]
//	prodtest serve [-config config.yaml] [-attach]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"prodtest/config"
	"prodtest/internal/app"
	"prodtest/internal/logging"
	"prodtest/internal/storage"
	"prodtest/internal/testrunner"
	"prodtest/internal/version"
)

const usage = `usage:
  prodtest test [flags] [go test arguments]
  prodtest serve [flags]
  prodtest -version
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	switch args[0] {
	case "-version", "--version", "version":
		fmt.Fprintln(stdout, version.Info())
		return 0
	case "test":
		return runTests(args[1:], stderr)
	case "serve":
		return runServe(args[1:], stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return 2
	}
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	configPath  string
	storageType string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to config file (default: $PRODTEST_CONFIG or config.yaml)")
	fs.StringVar(&c.storageType, "storage-type", "", "Storage backend: sqlite, postgresql or mongodb")
}

// load reads configuration, applies flag overrides and installs the logger.
func (c *commonFlags) load(stderr io.Writer) (*config.LoadResult, *slog.Logger, error) {
	var (
		result *config.LoadResult
		err    error
	)
	if c.configPath != "" {
		result, err = config.LoadFile(c.configPath, true)
	} else {
		result, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := result.Config
	if c.storageType != "" {
		cfg.Storage.Type = c.storageType
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	logger, err := logging.New(stderr, cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid logging config: %w", err)
	}
	slog.SetDefault(logger)
	return result, logger, nil
}

func runTests(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	prefix := fs.String("table-prefix", "", "Prefix for test tables (default: $"+testrunner.SettingTablePrefix+" or "+testrunner.DefaultTablePrefix+")")
	keepdb := fs.Bool("keepdb", false, "Keep the prefixed tables after the run")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	loaded, logger, err := common.load(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return testrunner.ExitConfigError
	}
	cfg := loaded.Config

	if cfg.Storage.Type == storage.TypeSQLite && cfg.Storage.SQLite.Path == storage.MemoryPath {
		logger.Error("an in-memory SQLite database cannot be shared with go test")
		return testrunner.ExitConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, app.Config{AppConfig: loaded, Logger: logger})
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		return testrunner.ExitDatabaseError
	}
	defer func() {
		if err := application.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	runner, err := application.NewRunner(testrunner.RunConfig{
		TablePrefix: *prefix,
		KeepTables:  *keepdb || cfg.TestRunner.KeepTables,
	})
	if err != nil {
		logger.Error("failed to create test runner", "error", err)
		return testrunner.ExitConfigError
	}

	goTestArgs := fs.Args()
	code, err := runner.Run(ctx, func(ctx context.Context) int {
		return goTest(ctx, goTestArgs, storageEnv(cfg.Storage), logger)
	})
	if err != nil {
		logger.Error("test run failed", "error", err)
	}
	return testrunner.ExitCode(code, err)
}

// goTest runs `go test` with the active prefix already in the environment
// and returns its exit code.
func goTest(ctx context.Context, args []string, extraEnv []string, logger *slog.Logger) int {
	if len(args) == 0 {
		args = []string{"./..."}
	}
	cmd := exec.CommandContext(ctx, "go", append([]string{"test"}, args...)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), extraEnv...)

	logger.Info("running go test", "args", args)
	err := cmd.Run()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	logger.Error("failed to run go test", "error", err)
	return 1
}

// storageEnv points child processes at the same default connection.
func storageEnv(cfg storage.Config) []string {
	env := []string{"STORAGE_TYPE=" + cfg.Type}
	switch cfg.Type {
	case storage.TypeSQLite:
		env = append(env, "SQLITE_PATH="+cfg.SQLite.Path)
	case storage.TypePostgreSQL:
		env = append(env, "POSTGRES_URL="+cfg.PostgreSQL.URL)
	case storage.TypeMongoDB:
		env = append(env, "MONGODB_URL="+cfg.MongoDB.URL, "MONGODB_DATABASE="+cfg.MongoDB.Database)
	}
	return env
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	attach := fs.Bool("attach", false, "Serve the tables of the active test run ($"+testrunner.SettingTablePrefix+")")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	loaded, logger, err := common.load(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return testrunner.ExitConfigError
	}

	logger.Info("starting prodtest",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	application, err := app.New(context.Background(), app.Config{
		AppConfig:          loaded,
		Logger:             logger,
		AttachActivePrefix: *attach,
	})
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		return 1
	}

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + loaded.Config.Server.Port); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

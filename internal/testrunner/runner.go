package testrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"prodtest/internal/schema"
)

// Exit codes for failures outside the test suite itself. Test failures keep
// the suite's own exit code.
const (
	ExitDatabaseError = 3
	ExitConfigError   = 4
)

// Phase is a runner lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseEnvironmentUp
	PhaseDatabaseUp
	PhaseTestsRunning
	PhaseDatabaseDown
	PhaseEnvironmentDown
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseEnvironmentUp:
		return "environment_up"
	case PhaseDatabaseUp:
		return "database_up"
	case PhaseTestsRunning:
		return "tests_running"
	case PhaseDatabaseDown:
		return "database_down"
	case PhaseEnvironmentDown:
		return "environment_down"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// RunConfig is built once from command-line and configuration input before
// any database interaction.
type RunConfig struct {
	// TablePrefix is the explicit prefix for this run (e.g. -table-prefix).
	TablePrefix string
	// ConfiguredPrefix is the prefix from configuration. When empty the
	// published setting is consulted.
	ConfiguredPrefix string
	// KeepTables leaves the prefixed tables in place after the run.
	KeepTables bool
}

// Runner sequences prefix resolution, provisioning, the test suite and
// reclaiming. Phases must be called in order; the runner is single-use.
type Runner struct {
	cfg      RunConfig
	backend  schema.Backend
	registry *schema.Registry
	settings *Settings
	logger   *slog.Logger
	metrics  *Metrics
	runID    string

	provisioner *Provisioner
	reclaimer   *Reclaimer

	phase        Phase
	prefix       string
	frame        Frame
	state        *Provisioned
	provisionErr error
}

// Option configures a Runner.
type Option func(*Runner)

// WithSettings publishes the prefix into s instead of the process environment.
// ActivePrefix and Attach then no longer see the run; use s.TablePrefix and
// AttachSettings instead.
func WithSettings(s *Settings) Option {
	return func(r *Runner) { r.settings = s }
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics records phase durations and DDL statements.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a runner over the default connection's schema backend.
func New(backend schema.Backend, registry *schema.Registry, cfg RunConfig, opts ...Option) (*Runner, error) {
	if backend == nil {
		return nil, fmt.Errorf("schema backend is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("entity registry is required")
	}

	r := &Runner{
		cfg:      cfg,
		registry: registry,
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.settings == nil {
		r.settings = EnvSettings()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("run_id", r.runID)
	r.backend = r.metrics.Instrument(backend)

	r.provisioner = NewProvisioner(r.backend, registry, r.logger)
	r.reclaimer = NewReclaimer(r.backend, registry, cfg.KeepTables, r.logger)
	return r, nil
}

// Phase returns the current lifecycle phase.
func (r *Runner) Phase() Phase { return r.phase }

// Prefix returns the resolved table prefix, empty before SetupEnvironment.
func (r *Runner) Prefix() string { return r.prefix }

// RunID identifies this run in logs.
func (r *Runner) RunID() string { return r.runID }

// Provisioned returns the provisioning state, nil before SetupDatabases.
func (r *Runner) Provisioned() *Provisioned { return r.state }

func (r *Runner) enter(to Phase, from ...Phase) error {
	for _, f := range from {
		if r.phase == f {
			r.phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.phase, to)
}

// SetupEnvironment resolves the table prefix and publishes it under
// SettingTablePrefix.
func (r *Runner) SetupEnvironment() (err error) {
	start := time.Now()
	defer func() { r.metrics.observePhase(PhaseEnvironmentUp, start, err) }()

	if r.phase != PhaseIdle {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.phase, PhaseEnvironmentUp)
	}

	configured := r.cfg.ConfiguredPrefix
	if configured == "" {
		configured, _ = r.settings.Get(SettingTablePrefix)
	}
	prefix, err := ResolvePrefix(r.cfg.TablePrefix, configured)
	if err != nil {
		return err
	}

	frame, err := r.settings.Push(SettingTablePrefix, prefix)
	if err != nil {
		return &ConfigError{Message: err.Error()}
	}

	r.prefix = prefix
	r.frame = frame
	r.phase = PhaseEnvironmentUp
	r.logger.Info("test environment ready", "prefix", prefix, "keep_tables", r.cfg.KeepTables)
	return nil
}

// SetupDatabases provisions the prefixed tables. On failure the runner
// still moves to PhaseDatabaseUp so TeardownDatabases can restore bindings,
// but RunTests refuses to run.
func (r *Runner) SetupDatabases(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { r.metrics.observePhase(PhaseDatabaseUp, start, err) }()

	if err := r.enter(PhaseDatabaseUp, PhaseEnvironmentUp); err != nil {
		return err
	}

	r.state, err = r.provisioner.Provision(ctx, r.prefix)
	if err != nil {
		r.provisionErr = err
		r.logger.Error("failed to provision test tables", "prefix", r.prefix, "error", err)
		return err
	}
	return nil
}

// RunTests runs the suite against the provisioned tables and returns its
// exit code.
func (r *Runner) RunTests(ctx context.Context, tests func(ctx context.Context) int) (int, error) {
	if r.provisionErr != nil {
		return 0, fmt.Errorf("%w: tables were not provisioned: %v", ErrInvalidTransition, r.provisionErr)
	}
	if err := r.enter(PhaseTestsRunning, PhaseDatabaseUp); err != nil {
		return 0, err
	}

	start := time.Now()
	code := tests(ctx)
	r.metrics.observePhase(PhaseTestsRunning, start, nil)
	r.logger.Info("test suite finished", "exit_code", code, "duration", time.Since(start))
	return code, nil
}

// TeardownDatabases drops or keeps the prefixed tables and restores the
// original bindings.
func (r *Runner) TeardownDatabases(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { r.metrics.observePhase(PhaseDatabaseDown, start, err) }()

	if err := r.enter(PhaseDatabaseDown, PhaseDatabaseUp, PhaseTestsRunning); err != nil {
		return err
	}

	if err := r.reclaimer.Reclaim(ctx, r.state); err != nil {
		r.logger.Error("failed to reclaim test tables", "prefix", r.prefix, "error", err)
		return err
	}
	return nil
}

// TeardownEnvironment restores the setting value from before the run.
func (r *Runner) TeardownEnvironment() (err error) {
	start := time.Now()
	defer func() { r.metrics.observePhase(PhaseEnvironmentDown, start, err) }()

	if err := r.enter(PhaseEnvironmentDown, PhaseDatabaseDown); err != nil {
		return err
	}
	if err := r.settings.Pop(r.frame); err != nil {
		return &ConfigError{Message: err.Error()}
	}
	return nil
}

// Run drives every phase in order around tests. Teardown runs even when
// provisioning fails or tests panics; the returned error joins every phase
// failure and the code is the suite's exit code.
func (r *Runner) Run(ctx context.Context, tests func(ctx context.Context) int) (code int, err error) {
	if err := r.SetupEnvironment(); err != nil {
		return 0, err
	}

	defer func() {
		teardownCtx := context.WithoutCancel(ctx)
		dbErr := r.TeardownDatabases(teardownCtx)
		envErr := r.TeardownEnvironment()
		err = errors.Join(err, dbErr, envErr)
	}()

	if err := r.SetupDatabases(ctx); err != nil {
		return 0, err
	}
	return r.RunTests(ctx, tests)
}

// Main runs m as the test suite, for use from a package TestMain:
//
//	func TestMain(m *testing.M) { os.Exit(runner.Main(ctx, m)) }
func (r *Runner) Main(ctx context.Context, m interface{ Run() int }) int {
	code, err := r.Run(ctx, func(context.Context) int { return m.Run() })
	if err != nil {
		r.logger.Error("test run failed", "error", err)
	}
	return ExitCode(code, err)
}

// ExitCode maps a suite exit code and runner error to a process exit code.
// Runner failures take precedence so a teardown failure is never hidden by
// a passing suite.
func ExitCode(testCode int, err error) int {
	if err == nil {
		return testCode
	}
	var dbErr *DatabaseError
	var restoreErr *RestoreError
	if errors.As(err, &dbErr) || errors.As(err, &restoreErr) {
		return ExitDatabaseError
	}
	return ExitConfigError
}

// Package testrunner runs a test suite against prefixed copies of every
// entity table inside an existing database, for environments where the test
// user may not create or drop databases.
package testrunner

import (
	"prodtest/internal/schema"
)

const (
	// DefaultTablePrefix is used when neither the run nor the configuration
	// names a prefix.
	DefaultTablePrefix = "test_"

	// SettingTablePrefix is the setting under which the active prefix is
	// published for the duration of a run.
	SettingTablePrefix = "TEST_RUNNER_NOCREATEDB_TABLE_PREFIX"
)

// ResolvePrefix picks the table prefix: explicit wins over configured, which
// wins over DefaultTablePrefix. Empty values fall through.
func ResolvePrefix(explicit, configured string) (string, error) {
	prefix := explicit
	if prefix == "" {
		prefix = configured
	}
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	if prefix == "" {
		return "", &ConfigError{Message: "no table prefix could be resolved"}
	}
	return prefix, nil
}

// ActivePrefix returns the prefix a running test runner published to the
// process environment. Runners configured WithSettings(NewSettings()) publish
// elsewhere; read their prefix with Settings.TablePrefix.
func ActivePrefix() (string, bool) {
	return EnvSettings().TablePrefix()
}

// Attach points every entity in r at the tables provisioned by a parent
// runner process. It issues no DDL, binds from the canonical table names so
// repeated calls are harmless, and returns the active prefix, or false when
// no runner is active.
func Attach(r *schema.Registry) (string, bool, error) {
	return AttachSettings(r, EnvSettings())
}

// AttachSettings is Attach for a runner that publishes into s.
func AttachSettings(r *schema.Registry, s *Settings) (string, bool, error) {
	prefix, ok := s.TablePrefix()
	if !ok {
		return "", false, nil
	}
	canonical := make(schema.Bindings)
	for _, e := range r.Entities() {
		canonical[e.Name] = e.Table
	}
	if err := r.Apply(canonical.WithPrefix(prefix)); err != nil {
		return "", false, err
	}
	return prefix, true, nil
}

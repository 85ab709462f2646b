package testrunner

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a lifecycle phase is called out of order.
var ErrInvalidTransition = errors.New("invalid runner phase transition")

// ErrFrameOrder is returned when settings frames are popped out of LIFO order.
var ErrFrameOrder = errors.New("settings frame popped out of order")

// ConfigError reports that no usable run configuration could be resolved.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Message
}

// DatabaseError wraps a failure during introspection, table drop, table
// create or scope commit. Database errors are never retried.
type DatabaseError struct {
	// Op is one of introspect, begin, drop, create, commit.
	Op    string
	Table string
	Err   error
}

func (e *DatabaseError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("database error: %s %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("database error: %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// RestoreError reports that entity bindings could not be restored. The
// process must not continue using the registry after it.
type RestoreError struct {
	Err error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("failed to restore table bindings: %v", e.Err)
}

func (e *RestoreError) Unwrap() error {
	return e.Err
}

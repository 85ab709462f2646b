// Package integration provides integration tests that run the prefixed-table
// test runner against real databases via testcontainers.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration

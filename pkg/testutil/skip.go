// Package testutil holds helpers shared by rabbitqueue tests: skips for
// integration runs, throwaway broker and database containers, and a logger
// that writes through testing.T.
package testutil

import (
	"os"
	"testing"
)

// SkipIfShort skips integration tests under go test -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// RequireDocker skips when containers cannot run: short mode, or CI without
// INTEGRATION_TESTS=1.
func RequireDocker(t *testing.T) {
	t.Helper()
	SkipIfShort(t)
	if os.Getenv("CI") != "" && os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("skipping container test in CI (set INTEGRATION_TESTS=1 to run)")
	}
}

package test

import (
	"os"
	"testing"
)

// Integration skips the test unless SHELLBRIDGE_INTEG_TESTS is set. Integration tests need a
// Docker daemon and a prebuilt shellagent binary on the search path.
func Integration(t *testing.T) {
	if os.Getenv("SHELLBRIDGE_INTEG_TESTS") == "" {
		t.Skip("skipping integration test, set SHELLBRIDGE_INTEG_TESTS to run")
	}
}

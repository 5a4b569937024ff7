// Package logging includes tests for the zap logger helpers.
package logging

import (
	"os"
	"path/filepath"
	"testing"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

// TestDevelopmentOverride checks that an explicit setting beats detection.
func TestDevelopmentOverride(t *testing.T) {
	t.Parallel()

	on, off := true, false
	if !Development(&on) {
		t.Fatal("Development(&true) = false")
	}
	if Development(&off) {
		t.Fatal("Development(&false) = true")
	}
}

// TestIsTerminalRegularFile ensures plain files are not treated as terminals.
func TestIsTerminalRegularFile(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "out.log"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close() //nolint:errcheck // test cleanup
	if IsTerminal(f) {
		t.Fatal("regular file reported as terminal")
	}
	if IsTerminal(nil) {
		t.Fatal("nil file reported as terminal")
	}
}

package store

import (
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestBuild creates a build record with minimal required fields.
func createTestBuild(fingerprint, repo, rev string) Build {
	return Build{
		Fingerprint: fingerprint,
		Component:   "test-component",
		Repo:        repo,
		Rev:         rev,
		Commit:      "0123456789abcdef0123456789abcdef01234567",
		WorkDir:     ".",
		BuiltAt:     time.UnixMilli(1700000000000),
	}
}

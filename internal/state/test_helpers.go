package state

import (
	"path/filepath"
	"testing"

	"github.com/vzahanych/engagement-edge/internal/logger"
)

// NewTestManager creates a state manager backed by a temporary database
func NewTestManager(t testing.TB) *Manager {
	t.Helper()

	mgr, err := NewManager(filepath.Join(t.TempDir(), "db", "engagement.db"), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	return mgr
}

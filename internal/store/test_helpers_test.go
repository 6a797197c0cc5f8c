package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/testutil"
)

// createTestStore opens a fresh database under t.TempDir().
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedCommits writes commits 1..n from a deterministic clock.
func seedCommits(t *testing.T, s *Store, n int) {
	t.Helper()
	clock := testutil.NewCommitClock()
	for i := 0; i < n; i++ {
		require.NoError(t, s.AppendCommit(context.Background(), clock.Next("")))
	}
}

// testEntry builds a minimal valid entry.
func testEntry(object, commit int64, action ir.Action, date string) ir.AuditLogEntry {
	e := ir.AuditLogEntry{
		CommitID:      commit,
		ObjectID:      object,
		RootObjectID:  object,
		EntityTypeID:  1,
		EffectiveDate: testutil.Date(date),
		Action:        action,
	}
	if action != ir.ActionRemoved {
		e.Payload = []byte(`{"id":1}`)
	}
	return e
}

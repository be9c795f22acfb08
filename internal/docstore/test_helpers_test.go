package docstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/testutil"
)

// createTestStore opens a store in a temp dir with a deterministic clock.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	clock := testutil.NewDeterministicClock(time.Time{}, time.Millisecond)
	all := append([]Option{WithClock(NewClock(clock.Now))}, opts...)
	s, err := Open(path, all...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// nextSnapshot waits for one delivery.
func nextSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

// assertNoSnapshot checks that nothing is delivered for a short while.
func assertNoSnapshot(t *testing.T, ch <-chan Snapshot) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected snapshot with %d changes", len(s.Changes))
	case <-time.After(50 * time.Millisecond):
	}
}

func ids(docs []*Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

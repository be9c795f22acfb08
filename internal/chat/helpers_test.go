package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/docstore"
	"github.com/roach88/chatsync/internal/media"
	"github.com/roach88/chatsync/internal/testutil"
)

// newTestService opens a store in a temp dir with deterministic clock and
// ids. Messages get ids msg-N and groups group-N.
func newTestService(t *testing.T, opts ...Option) (*Service, *docstore.Store) {
	t.Helper()
	clock := testutil.NewDeterministicClock(time.Time{}, time.Millisecond)
	st, err := docstore.Open(filepath.Join(t.TempDir(), "chat.db"),
		docstore.WithClock(docstore.NewClock(clock.Now)),
		docstore.WithIDGenerator(testutil.NewSequentialIDs("msg")))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	all := append([]Option{WithIDGenerator(testutil.NewSequentialIDs("group"))}, opts...)
	return NewService(st, all...), st
}

// createTestGroup creates a group owned by creator.
func createTestGroup(t *testing.T, s *Service, creator string, members ...string) *Conversation {
	t.Helper()
	c, err := s.CreateGroup(context.Background(), GroupRequest{
		CreatorID: creator,
		Name:      "Test Group",
		MemberIDs: members,
	})
	require.NoError(t, err)
	return c
}

func mustSend(t *testing.T, s *Service, conv, sender, text string) Message {
	t.Helper()
	m, err := s.Send(context.Background(), SendRequest{ConversationID: conv, SenderID: sender, Text: text})
	require.NoError(t, err)
	return m
}

func mustConversation(t *testing.T, s *Service, id string) *Conversation {
	t.Helper()
	c, err := s.Conversation(context.Background(), id)
	require.NoError(t, err)
	return c
}

type fakeUploader struct {
	result media.Result
	err    error
	calls  int
}

func (f *fakeUploader) Upload(ctx context.Context, file media.File) (media.Result, error) {
	f.calls++
	if f.err != nil {
		return media.Result{}, f.err
	}
	return f.result, nil
}

package responder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/docstore"
	"github.com/roach88/chatsync/internal/media"
	"github.com/roach88/chatsync/internal/testutil"
)

type scriptedDrafter struct {
	mu       sync.Mutex
	reply    string
	err      error
	received []string
}

func (d *scriptedDrafter) Draft(ctx context.Context, received string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = append(d.received, received)
	return d.reply, d.err
}

func (d *scriptedDrafter) Received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepLog) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func newTestService(t *testing.T) *chat.Service {
	t.Helper()
	clock := testutil.NewDeterministicClock(testutil.Epoch, time.Millisecond)
	st, err := docstore.Open(filepath.Join(t.TempDir(), "chat.db"),
		docstore.WithClock(docstore.NewClock(clock.Now)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := chat.NewService(st)
	require.NoError(t, svc.PutUser(context.Background(), chat.User{ID: "alice", Name: "Alice"}))
	return svc
}

func noLimit() Config {
	cfg := DefaultConfig()
	cfg.Limiter = nil
	return cfg
}

func waitMessages(t *testing.T, svc *chat.Service, conv string, n int) []chat.Message {
	t.Helper()
	var msgs []chat.Message
	require.Eventually(t, func() bool {
		var err error
		msgs, err = svc.Messages(context.Background(), conv, 0)
		return err == nil && len(msgs) == n
	}, 2*time.Second, 5*time.Millisecond)
	return msgs
}

func TestConfig_TypingDelay(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1500*time.Millisecond, cfg.TypingDelay("ok"))
	assert.Equal(t, 3*time.Second, cfg.TypingDelay(string(make([]byte, 100))))
	assert.Equal(t, 4*time.Second, cfg.TypingDelay(string(make([]byte, 500))))
}

func TestResponder_RepliesToHuman(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	drafter := &scriptedDrafter{reply: "hey there!"}
	sleeps := &sleepLog{}

	var composing []bool
	var cmu sync.Mutex
	r := New(svc, "alice", drafter,
		WithConfig(noLimit()),
		WithSleeper(sleeps.sleep),
		OnComposing(func(on bool) {
			cmu.Lock()
			defer cmu.Unlock()
			composing = append(composing, on)
		}))
	require.NoError(t, r.Attach(ctx))
	t.Cleanup(r.Detach)

	conv := r.ConversationID()
	assert.Equal(t, chat.DirectID("alice", chat.DefaultAssistantID), conv)

	// Only the greeting so far, and it is not answered.
	msgs := waitMessages(t, svc, conv, 1)
	assert.Equal(t, chat.DefaultAssistantID, msgs[0].SenderID)

	_, err := svc.Send(ctx, chat.SendRequest{ConversationID: conv, SenderID: "alice", Text: "hello"})
	require.NoError(t, err)

	msgs = waitMessages(t, svc, conv, 3)
	reply := msgs[2]
	assert.Equal(t, chat.DefaultAssistantID, reply.SenderID)
	assert.Equal(t, "hey there!", reply.Text)

	require.Eventually(t, func() bool {
		m, err := svc.Message(ctx, conv, msgs[1].ID)
		return err == nil && m.Read
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"hello"}, drafter.Received())
	assert.Equal(t, []time.Duration{600 * time.Millisecond, 1500 * time.Millisecond}, sleeps.Waits())

	cmu.Lock()
	assert.Equal(t, []bool{true, false}, composing)
	cmu.Unlock()
	assert.False(t, r.Composing())

	c, err := svc.Conversation(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, "hey there!", c.LastMessage.Text)
	assert.Equal(t, chat.DefaultAssistantID, c.LastMessage.SenderID)
}

func TestResponder_AttachmentPlaceholder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	drafter := &scriptedDrafter{reply: "nice pic"}

	r := New(svc, "alice", drafter, WithConfig(noLimit()), WithSleeper((&sleepLog{}).sleep))
	require.NoError(t, r.Attach(ctx))
	t.Cleanup(r.Detach)

	_, err := svc.Send(ctx, chat.SendRequest{
		ConversationID: r.ConversationID(),
		SenderID:       "alice",
		Media:          &chat.Media{URL: "https://cdn.example.com/cat.png", Type: media.KindImage},
	})
	require.NoError(t, err)

	waitMessages(t, svc, r.ConversationID(), 3)
	assert.Equal(t, []string{AttachmentPlaceholder}, drafter.Received())
}

func TestResponder_DraftFailureIsNotRetried(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	drafter := &scriptedDrafter{err: errors.New("quota exceeded")}

	r := New(svc, "alice", drafter, WithConfig(noLimit()), WithSleeper((&sleepLog{}).sleep))
	require.NoError(t, r.Attach(ctx))
	t.Cleanup(r.Detach)
	conv := r.ConversationID()

	m, err := svc.Send(ctx, chat.SendRequest{ConversationID: conv, SenderID: "alice", Text: "hi"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(drafter.Received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !r.Composing() }, 2*time.Second, 5*time.Millisecond)

	// Another change to the same trigger does not draft again.
	require.NoError(t, svc.React(ctx, conv, m.ID, "👍"))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, drafter.Received(), 1)

	msgs, err := svc.Messages(ctx, conv, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "no reply is sent")
}

func TestResponder_EmptyDraft(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	drafter := &scriptedDrafter{}

	r := New(svc, "alice", drafter, WithConfig(noLimit()), WithSleeper((&sleepLog{}).sleep))
	require.NoError(t, r.Attach(ctx))
	t.Cleanup(r.Detach)

	_, err := svc.Send(ctx, chat.SendRequest{ConversationID: r.ConversationID(), SenderID: "alice", Text: "hi"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(drafter.Received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	msgs, err := svc.Messages(ctx, r.ConversationID(), 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestResponder_DetachDiscardsPendingReply(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	drafter := &scriptedDrafter{reply: "too late"}

	started := make(chan struct{}, 1)
	blocking := func(ctx context.Context, d time.Duration) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}

	r := New(svc, "alice", drafter, WithConfig(noLimit()), WithSleeper(blocking))
	require.NoError(t, r.Attach(ctx))
	conv := r.ConversationID()

	_, err := svc.Send(ctx, chat.SendRequest{ConversationID: conv, SenderID: "alice", Text: "anyone?"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("reply never started")
	}
	r.Detach()

	assert.Empty(t, drafter.Received())
	assert.False(t, r.Composing())
	msgs, err := svc.Messages(ctx, conv, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestResponder_AttachErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	bot := New(svc, chat.DefaultAssistantID, &scriptedDrafter{})
	assert.Error(t, bot.Attach(ctx))

	r := New(svc, "alice", &scriptedDrafter{}, WithSleeper((&sleepLog{}).sleep))
	require.NoError(t, r.Attach(ctx))
	t.Cleanup(r.Detach)
	assert.ErrorIs(t, r.Attach(ctx), ErrAttached)
}

func TestDrafterFunc(t *testing.T) {
	d := DrafterFunc(func(ctx context.Context, received string) (string, error) {
		return "re: " + received, nil
	})
	got, err := d.Draft(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "re: hi", got)
}

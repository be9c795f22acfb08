package fanout

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/docstore"
	"github.com/roach88/chatsync/internal/metrics"
)

const settle = 150 * time.Millisecond

type recorder struct {
	mu     sync.Mutex
	toasts []Alert
	pushes []Alert
}

func (r *recorder) Toast(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, a)
}

func (r *recorder) Push(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, a)
}

func (r *recorder) Toasts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.toasts...)
}

func (r *recorder) Pushes() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.pushes...)
}

// newTestService uses the wall clock so message timestamps fall inside the
// recency window.
func newTestService(t *testing.T, opts ...chat.Option) *chat.Service {
	t.Helper()
	st, err := docstore.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := chat.NewService(st, opts...)
	ctx := context.Background()
	for _, u := range []chat.User{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob", AvatarURL: "https://example.com/bob.png"},
		{ID: "carol", Name: "Carol"},
	} {
		require.NoError(t, svc.PutUser(ctx, u))
	}
	return svc
}

func startListener(t *testing.T, svc *chat.Service, user string, opts ...Option) (*Listener, *recorder) {
	t.Helper()
	rec := &recorder{}
	l := New(svc, user, rec, opts...)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)
	return l, rec
}

func waitEntries(t *testing.T, l *Listener, cond func([]Entry) bool) []Entry {
	t.Helper()
	var got []Entry
	require.Eventually(t, func() bool {
		got = l.Entries()
		return cond(got)
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func entryFor(entries []Entry, id string) (Entry, bool) {
	for _, e := range entries {
		if e.ConversationID == id {
			return e, true
		}
	}
	return Entry{}, false
}

func send(t *testing.T, svc *chat.Service, conv, sender, text string) {
	t.Helper()
	_, err := svc.Send(context.Background(), chat.SendRequest{ConversationID: conv, SenderID: sender, Text: text})
	require.NoError(t, err)
}

func TestListener_InitialListDoesNotAlert(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	dm, err := svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	send(t, svc, dm, "bob", "before start")

	l, rec := startListener(t, svc, "alice")

	entries := waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 })
	e := entries[0]
	assert.Equal(t, dm, e.ConversationID)
	assert.Equal(t, PartnerDirect, e.Partner.Kind)
	assert.Equal(t, "Bob", e.Partner.Name())
	assert.Equal(t, "https://example.com/bob.png", e.Partner.Avatar())
	assert.Equal(t, "before start", e.LastMessage.Text)
	assert.Equal(t, 1, e.Unread)

	time.Sleep(settle)
	assert.Empty(t, rec.Toasts())
}

func TestListener_ToastAndPush(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := newTestService(t, chat.WithMetrics(m))
	ctx := context.Background()

	dm, err := svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	l, rec := startListener(t, svc, "alice")
	waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 })

	send(t, svc, dm, "bob", "hello")
	require.Eventually(t, func() bool { return len(rec.Toasts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	toast := rec.Toasts()[0]
	assert.Equal(t, dm, toast.ConversationID)
	assert.Equal(t, "Bob", toast.Title)
	assert.Equal(t, "hello", toast.Body)
	assert.Equal(t, "bob", toast.SenderID)
	assert.Empty(t, rec.Pushes(), "foreground never pushes")

	l.View().SetForeground(false)
	l.View().SetPushGranted(true)
	send(t, svc, dm, "bob", "are you there?")
	require.Eventually(t, func() bool { return len(rec.Pushes()) == 1 }, 2*time.Second, 5*time.Millisecond)
	push := rec.Pushes()[0]
	assert.Equal(t, "Message from Bob", push.Title)
	assert.Equal(t, "are you there?", push.Body)
	assert.Len(t, rec.Toasts(), 2)

	expected := `
# HELP chatsync_alerts_total Alerts delivered, by channel.
# TYPE chatsync_alerts_total counter
chatsync_alerts_total{channel="push"} 1
chatsync_alerts_total{channel="toast"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "chatsync_alerts_total"))

	entries := waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 && e[0].Unread == 2 })
	assert.Equal(t, "are you there?", entries[0].LastMessage.Text)
}

func TestListener_Suppression(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	dm, err := svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	l, rec := startListener(t, svc, "alice")
	waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 })

	t.Run("own message", func(t *testing.T) {
		send(t, svc, dm, "alice", "mine")
		waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 && e[0].LastMessage.Text == "mine" })
		time.Sleep(settle)
		assert.Empty(t, rec.Toasts())
	})

	t.Run("viewing", func(t *testing.T) {
		l.View().SetViewing(dm)
		defer l.View().SetViewing("")
		send(t, svc, dm, "bob", "you are looking at this")
		waitEntries(t, l, func(e []Entry) bool { return e[0].LastMessage.Text == "you are looking at this" })
		time.Sleep(settle)
		assert.Empty(t, rec.Toasts())
	})

	t.Run("muted", func(t *testing.T) {
		require.NoError(t, svc.SetMuted(ctx, dm, "alice", true))
		waitEntries(t, l, func(e []Entry) bool { return e[0].Muted })
		send(t, svc, dm, "bob", "shh")
		waitEntries(t, l, func(e []Entry) bool { return e[0].LastMessage.Text == "shh" })
		time.Sleep(settle)
		assert.Empty(t, rec.Toasts())
	})
}

func TestListener_StaleMessages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	dm, err := svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	future := func() time.Time { return time.Now().Add(time.Minute) }
	l, rec := startListener(t, svc, "alice", WithClock(future))
	waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 })

	send(t, svc, dm, "bob", "old news")
	waitEntries(t, l, func(e []Entry) bool { return e[0].LastMessage.Text == "old news" })
	time.Sleep(settle)
	assert.Empty(t, rec.Toasts())
}

func TestListener_NonMessageChangeDoesNotRealert(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	dm, err := svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	l, rec := startListener(t, svc, "alice")
	waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 })

	send(t, svc, dm, "bob", "ping")
	require.Eventually(t, func() bool { return len(rec.Toasts()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// Pinning modifies the conversation but not its last message.
	require.NoError(t, svc.SetPinned(ctx, dm, "alice", true))
	waitEntries(t, l, func(e []Entry) bool { return e[0].Pinned })
	time.Sleep(settle)
	assert.Len(t, rec.Toasts(), 1)
}

func TestListener_GroupsAndOrdering(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	dm, err := svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	send(t, svc, dm, "bob", "first")

	g, err := svc.CreateGroup(ctx, chat.GroupRequest{CreatorID: "carol", Name: "Book Club", MemberIDs: []string{"alice"}})
	require.NoError(t, err)

	l, _ := startListener(t, svc, "alice")
	entries := waitEntries(t, l, func(e []Entry) bool { return len(e) == 2 })

	// The group is newer.
	assert.Equal(t, g.ID, entries[0].ConversationID)
	assert.Equal(t, dm, entries[1].ConversationID)

	group := entries[0].Partner
	assert.Equal(t, PartnerGroup, group.Kind)
	assert.Equal(t, "Book Club", group.Name())
	assert.Equal(t, chat.DefaultGroupAvatar("Book Club"), group.Avatar())
	assert.Equal(t, 2, group.Group.Members)
	assert.False(t, group.Group.ViewerIsAdmin)
	assert.Equal(t, "Book Club created", entries[0].LastMessage.Text)

	require.NoError(t, svc.SetPinned(ctx, dm, "alice", true))
	entries = waitEntries(t, l, func(e []Entry) bool { return len(e) == 2 && e[0].Pinned })
	assert.Equal(t, dm, entries[0].ConversationID)
}

func TestListener_DirectWithoutMessages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartDirect(ctx, "alice", "carol")
	require.NoError(t, err)

	l, _ := startListener(t, svc, "alice")
	entries := waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 })
	assert.Equal(t, DefaultPreview, entries[0].LastMessage.Text)
	assert.Equal(t, 0, entries[0].Unread)
}

func TestListener_MissingPartnerSkipped(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartDirect(ctx, "alice", "ghost")
	require.NoError(t, err)
	dm, err := svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	l, _ := startListener(t, svc, "alice")
	entries := waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 })
	assert.Equal(t, dm, entries[0].ConversationID)
}

func TestListener_RemovedConversation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, chat.GroupRequest{CreatorID: "alice", Name: "Temp", MemberIDs: []string{"bob"}})
	require.NoError(t, err)

	l, _ := startListener(t, svc, "bob")
	waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 })

	require.NoError(t, svc.Remove(ctx, g.ID, "alice", "bob"))
	waitEntries(t, l, func(e []Entry) bool { return len(e) == 0 })

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		_, ok := l.workers[g.ID]
		return !ok
	}, 2*time.Second, 5*time.Millisecond, "worker should retire with its conversation")
}

func TestListener_UnreadRefreshesAfterRead(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	dm, err := svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	l, rec := startListener(t, svc, "alice")
	waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 })

	send(t, svc, dm, "bob", "unread until opened")
	waitEntries(t, l, func(e []Entry) bool { return e[0].Unread == 1 })
	require.Eventually(t, func() bool { return len(rec.Toasts()) == 1 }, 2*time.Second, 5*time.Millisecond)

	n, err := svc.MarkAllFromOthers(ctx, dm, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entries := waitEntries(t, l, func(e []Entry) bool { return e[0].Unread == 0 })
	assert.Equal(t, "unread until opened", entries[0].LastMessage.Text)

	time.Sleep(settle)
	assert.Len(t, rec.Toasts(), 1, "marking read never re-alerts")
}

func TestListener_ReadAfterSuppressedAlertStaysQuiet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	dm, err := svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	l, rec := startListener(t, svc, "alice")
	waitEntries(t, l, func(e []Entry) bool { return len(e) == 1 })

	l.View().SetViewing(dm)
	msg, err := svc.Send(ctx, chat.SendRequest{ConversationID: dm, SenderID: "bob", Text: "seen while open"})
	require.NoError(t, err)
	waitEntries(t, l, func(e []Entry) bool { return e[0].Unread == 1 })

	// Navigating away, then marking read, must not toast the old message.
	l.View().SetViewing("")
	_, err = svc.MarkAsRead(ctx, dm, msg.ID)
	require.NoError(t, err)
	waitEntries(t, l, func(e []Entry) bool { return e[0].Unread == 0 })

	time.Sleep(settle)
	assert.Empty(t, rec.Toasts())
}

func TestListener_Updates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l, _ := startListener(t, svc, "alice")
	_, err := svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case list := <-l.Updates():
			if len(list) == 1 {
				assert.Equal(t, "Bob", list[0].Partner.Name())
				return
			}
		case <-deadline:
			t.Fatal("no update with the new conversation")
		}
	}
}

func TestListener_StartTwice(t *testing.T) {
	svc := newTestService(t)
	l, _ := startListener(t, svc, "alice")
	assert.ErrorIs(t, l.Start(context.Background()), ErrStarted)
}

func TestLogNotifier(t *testing.T) {
	// Nil logger falls back to the default.
	n := LogNotifier{}
	n.Toast(Alert{ConversationID: "c", Title: "t", Body: "b"})
	n.Push(Alert{ConversationID: "c", Title: "t", Body: "b"})
}

func TestList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	dm, err := svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = svc.StartDirect(ctx, "alice", "ghost")
	require.NoError(t, err)
	g, err := svc.CreateGroup(ctx, chat.GroupRequest{CreatorID: "alice", Name: "Crew", MemberIDs: []string{"carol"}})
	require.NoError(t, err)
	send(t, svc, dm, "bob", "latest")

	entries, err := List(ctx, svc, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, dm, entries[0].ConversationID)
	assert.Equal(t, 1, entries[0].Unread)
	assert.Equal(t, g.ID, entries[1].ConversationID)
	assert.True(t, entries[1].Partner.Group.ViewerIsAdmin)
}

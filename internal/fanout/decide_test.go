package fanout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/docstore"
)

func TestDecide(t *testing.T) {
	now := time.UnixMilli(1_700_000_010_000)
	fresh := now.Add(-time.Second).UnixMilli()

	conv := func(mut func(c *chat.Conversation)) *chat.Conversation {
		c := &chat.Conversation{
			ID:           "alice_bob",
			Participants: []string{"alice", "bob"},
			LastMessage:  &chat.LastMessage{Text: "hi", Timestamp: fresh, SenderID: "bob"},
		}
		if mut != nil {
			mut(c)
		}
		return c
	}
	foreground := View{Foreground: true}

	tests := []struct {
		name string
		in   DecisionInput
		want Decision
	}{
		{
			name: "toast in foreground",
			in:   DecisionInput{Change: docstore.ChangeModified, Conversation: conv(nil), View: foreground},
			want: Decision{Toast: true},
		},
		{
			name: "push when hidden and granted",
			in:   DecisionInput{Change: docstore.ChangeModified, Conversation: conv(nil), View: View{PushGranted: true}},
			want: Decision{Toast: true, Push: true},
		},
		{
			name: "no push without permission",
			in:   DecisionInput{Change: docstore.ChangeModified, Conversation: conv(nil), View: View{}},
			want: Decision{Toast: true},
		},
		{
			name: "added never alerts",
			in:   DecisionInput{Change: docstore.ChangeAdded, Conversation: conv(nil), View: foreground},
			want: Decision{Reason: ReasonNotModified},
		},
		{
			name: "no last message",
			in: DecisionInput{Change: docstore.ChangeModified, View: foreground,
				Conversation: conv(func(c *chat.Conversation) { c.LastMessage = nil })},
			want: Decision{Reason: ReasonNoMessage},
		},
		{
			name: "muted",
			in: DecisionInput{Change: docstore.ChangeModified, View: foreground,
				Conversation: conv(func(c *chat.Conversation) { c.MutedBy = []string{"alice"} })},
			want: Decision{Reason: ReasonMuted},
		},
		{
			name: "muted by someone else",
			in: DecisionInput{Change: docstore.ChangeModified, View: foreground,
				Conversation: conv(func(c *chat.Conversation) { c.MutedBy = []string{"bob"} })},
			want: Decision{Toast: true},
		},
		{
			name: "own message",
			in: DecisionInput{Change: docstore.ChangeModified, View: foreground,
				Conversation: conv(func(c *chat.Conversation) { c.LastMessage.SenderID = "alice" })},
			want: Decision{Reason: ReasonOwnMessage},
		},
		{
			name: "already seen",
			in:   DecisionInput{Change: docstore.ChangeModified, Conversation: conv(nil), View: foreground, LastSeen: fresh},
			want: Decision{Reason: ReasonDuplicate},
		},
		{
			name: "newer message alerts",
			in:   DecisionInput{Change: docstore.ChangeModified, Conversation: conv(nil), View: foreground, LastSeen: fresh - 1},
			want: Decision{Toast: true},
		},
		{
			name: "stale",
			in: DecisionInput{Change: docstore.ChangeModified, View: foreground,
				Conversation: conv(func(c *chat.Conversation) { c.LastMessage.Timestamp = now.Add(-6 * time.Second).UnixMilli() })},
			want: Decision{Reason: ReasonStale},
		},
		{
			name: "exactly at window is stale",
			in: DecisionInput{Change: docstore.ChangeModified, View: foreground,
				Conversation: conv(func(c *chat.Conversation) { c.LastMessage.Timestamp = now.Add(-5 * time.Second).UnixMilli() })},
			want: Decision{Reason: ReasonStale},
		},
		{
			name: "custom window",
			in: DecisionInput{Change: docstore.ChangeModified, View: foreground, Window: 10 * time.Second,
				Conversation: conv(func(c *chat.Conversation) { c.LastMessage.Timestamp = now.Add(-6 * time.Second).UnixMilli() })},
			want: Decision{Toast: true},
		},
		{
			name: "viewing in foreground",
			in:   DecisionInput{Change: docstore.ChangeModified, Conversation: conv(nil), View: View{Viewing: "alice_bob", Foreground: true}},
			want: Decision{Reason: ReasonViewing},
		},
		{
			name: "viewing but hidden",
			in:   DecisionInput{Change: docstore.ChangeModified, Conversation: conv(nil), View: View{Viewing: "alice_bob", PushGranted: true}},
			want: Decision{Toast: true, Push: true},
		},
		{
			name: "viewing another conversation",
			in:   DecisionInput{Change: docstore.ChangeModified, Conversation: conv(nil), View: View{Viewing: "group-1", Foreground: true}},
			want: Decision{Toast: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.User = "alice"
			tt.in.Now = now
			assert.Equal(t, tt.want, Decide(tt.in))
		})
	}
}

func TestSortEntries(t *testing.T) {
	entries := []Entry{
		{ConversationID: "b", LastMessage: chat.LastMessage{Timestamp: 10}},
		{ConversationID: "a", LastMessage: chat.LastMessage{Timestamp: 10}},
		{ConversationID: "c", LastMessage: chat.LastMessage{Timestamp: 30}},
		{ConversationID: "p", LastMessage: chat.LastMessage{Timestamp: 1}, Pinned: true},
		{ConversationID: "d"},
	}
	SortEntries(entries)

	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ConversationID)
	}
	assert.Equal(t, []string{"p", "c", "a", "b", "d"}, ids)
}

func TestViewState(t *testing.T) {
	v := NewViewState()
	assert.Equal(t, View{Foreground: true}, v.Snapshot())

	v.SetViewing("group-1")
	v.SetForeground(false)
	v.SetPushGranted(true)
	assert.Equal(t, View{Viewing: "group-1", PushGranted: true}, v.Snapshot())
}

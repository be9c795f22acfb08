package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/media"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		media *Media
		want  string
	}{
		{"plain text", "hello", nil, "hello"},
		{"image with caption", "sunset", &Media{Type: media.KindImage}, "📷 sunset"},
		{"image without caption", "", &Media{Type: media.KindImage}, "Sent an image"},
		{"video with caption", "clip", &Media{Type: media.KindVideo}, "🎥 clip"},
		{"video without caption", "", &Media{Type: media.KindVideo}, "Sent a video"},
		{"gif ignores caption", "lol", &Media{Type: media.KindGIF}, "GIF"},
		{"document with caption", "notes", &Media{Type: media.KindDocument, FileName: "a.pdf"}, "📄 notes"},
		{"document with name", "", &Media{Type: media.KindDocument, FileName: "a.pdf"}, "Sent a file: a.pdf"},
		{"document without name", "", &Media{Type: media.KindDocument}, "Sent a file: Document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Preview(tt.text, tt.media))
		})
	}
}

func TestSend_UpdatesPreview(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id, err := s.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	m, err := s.Send(ctx, SendRequest{
		ConversationID: id,
		SenderID:       "alice",
		Text:           "look",
		Media:          &Media{URL: "https://x/y.png", Type: media.KindImage},
		ReplyTo:        &ReplyRef{ID: "m0", Text: "earlier", SenderID: "bob"},
	})
	require.NoError(t, err)

	assert.Equal(t, "msg-1", m.ID)
	assert.Equal(t, id, m.ConversationID)
	assert.False(t, m.Read)
	assert.NotZero(t, m.CreatedAt)
	require.NotNil(t, m.Media)
	assert.Equal(t, media.KindImage, m.Media.Type)
	require.NotNil(t, m.ReplyTo)
	assert.Equal(t, "bob", m.ReplyTo.SenderID)

	c := mustConversation(t, s, id)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "📷 look", c.LastMessage.Text)
	assert.Equal(t, m.CreatedAt, c.LastMessage.Timestamp)
	assert.Equal(t, "alice", c.LastMessage.SenderID)
	assert.Equal(t, m.CreatedAt, c.UpdatedAt)
}

func TestSend_Validation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id, err := s.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = s.Send(ctx, SendRequest{ConversationID: id, SenderID: "alice", Text: "   "})
	assert.True(t, IsValidation(err))

	_, err = s.Send(ctx, SendRequest{ConversationID: id, SenderID: "alice", Media: &Media{URL: "u", Type: "audio"}})
	assert.True(t, IsValidation(err))

	_, err = s.Send(ctx, SendRequest{ConversationID: "nope", SenderID: "alice", Text: "hi"})
	assert.True(t, IsNotFound(err))
}

func TestSend_NonParticipantDenied(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id, err := s.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = s.Send(ctx, SendRequest{ConversationID: id, SenderID: "mallory", Text: "hi"})
	assert.True(t, IsPermissionDenied(err))

	msgs, err := s.Messages(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSend_RestrictedGroup(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	g := createTestGroup(t, s, "alice", "bob")
	require.NoError(t, s.UpdatePermissions(ctx, g.ID, "alice", true))

	_, err := s.Send(ctx, SendRequest{ConversationID: g.ID, SenderID: "bob", Text: "can I?"})
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
	assert.Equal(t, CodePermissionDenied, CodeOf(err))

	// Nothing changed: only the system message, preview untouched.
	msgs, err := s.Messages(ctx, g.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, "Test Group created", mustConversation(t, s, g.ID).LastMessage.Text)

	mustSend(t, s, g.ID, "alice", "admins only")
	require.NoError(t, s.ToggleAdmin(ctx, g.ID, "alice", "bob", true))
	mustSend(t, s, g.ID, "bob", "now I can")
}

func TestMessages_TotalOrderAndWindow(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id, err := s.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	for _, text := range []string{"1", "2", "3", "4"} {
		mustSend(t, s, id, "alice", text)
	}

	all, err := s.Messages(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Before(all[i]))
	}

	recent, err := s.Messages(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].Text)
	assert.Equal(t, "4", recent[1].Text)
}

func TestMessage_Before_TieBreaksOnSeq(t *testing.T) {
	a := Message{CreatedAt: 10, Seq: 1}
	b := Message{CreatedAt: 10, Seq: 2}
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, Message{CreatedAt: 9, Seq: 5}.Before(a))
}

func TestSubscribeMessages(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id, err := s.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	deliveries := make(chan []Message, 8)
	sub, err := s.SubscribeMessages(ctx, id, 0, func(msgs []Message) { deliveries <- msgs })
	require.NoError(t, err)
	defer sub.Stop()

	next := func() []Message {
		t.Helper()
		select {
		case m := <-deliveries:
			return m
		case <-time.After(2 * time.Second):
			t.Fatal("no delivery")
			return nil
		}
	}

	assert.Empty(t, next())

	first := mustSend(t, s, id, "alice", "hi")
	got := next()
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Text)

	require.NoError(t, s.React(ctx, id, first.ID, "❤️"))
	got = next()
	require.Len(t, got, 1)
	assert.Equal(t, "❤️", got[0].Reaction)

	sub.Stop()
	mustSend(t, s, id, "bob", "after stop")
	select {
	case <-deliveries:
		t.Fatal("delivery after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReact(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id, err := s.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	m := mustSend(t, s, id, "alice", "hi")

	require.NoError(t, s.React(ctx, id, m.ID, "👍"))
	got, err := s.Message(ctx, id, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "👍", got.Reaction)

	require.NoError(t, s.React(ctx, id, m.ID, ""))
	got, err = s.Message(ctx, id, m.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Reaction)

	err = s.React(ctx, id, "missing", "👍")
	assert.True(t, IsNotFound(err))
}

func TestSendMedia(t *testing.T) {
	up := &fakeUploader{result: media.Result{SecureURL: "https://cdn/x.pdf", Kind: media.KindDocument}}
	s, _ := newTestService(t, WithUploader(up))
	ctx := context.Background()
	id, err := s.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	m, err := s.SendMedia(ctx, MediaRequest{
		ConversationID: id,
		SenderID:       "alice",
		File:           media.File{Name: "x.pdf", Data: []byte("%PDF")},
	})
	require.NoError(t, err)
	require.NotNil(t, m.Media)
	assert.Equal(t, "https://cdn/x.pdf", m.Media.URL)
	assert.Equal(t, "x.pdf", m.Media.FileName)
	assert.Equal(t, "Sent a file: x.pdf", mustConversation(t, s, id).LastMessage.Text)
}

func TestSendMedia_UploadFailureWritesNothing(t *testing.T) {
	up := &fakeUploader{err: errors.New("network down")}
	s, _ := newTestService(t, WithUploader(up))
	ctx := context.Background()
	id, err := s.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = s.SendMedia(ctx, MediaRequest{ConversationID: id, SenderID: "alice", File: media.File{Name: "a.png"}})
	assert.True(t, IsUploadFailure(err))
	assert.Equal(t, 1, up.calls)

	msgs, err := s.Messages(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendMedia_DeniedBeforeUpload(t *testing.T) {
	up := &fakeUploader{result: media.Result{SecureURL: "u", Kind: media.KindImage}}
	s, _ := newTestService(t, WithUploader(up))
	ctx := context.Background()
	id, err := s.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = s.SendMedia(ctx, MediaRequest{ConversationID: id, SenderID: "mallory", File: media.File{Name: "a.png"}})
	assert.True(t, IsPermissionDenied(err))
	assert.Zero(t, up.calls)
}

func TestSendMedia_NoUploader(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.SendMedia(context.Background(), MediaRequest{ConversationID: "c", SenderID: "a"})
	assert.True(t, IsUploadFailure(err))
}

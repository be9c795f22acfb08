package chat

import (
	"context"
	"strings"

	"github.com/roach88/chatsync/internal/docstore"
	"github.com/roach88/chatsync/internal/media"
)

// SendRequest describes a message to append.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Text           string
	Media          *Media
	ReplyTo        *ReplyRef
}

// Send appends a message and updates the conversation preview atomically.
// The sender must be a participant and pass the posting gate.
func (s *Service) Send(ctx context.Context, req SendRequest) (Message, error) {
	const op = "send"

	if req.ConversationID == "" || req.SenderID == "" {
		return Message{}, validation(op, "conversation and sender are required")
	}
	if strings.TrimSpace(req.Text) == "" && req.Media == nil {
		return Message{}, validation(op, "message needs text or media")
	}
	if req.Media != nil && (!req.Media.Type.Valid() || req.Media.URL == "") {
		return Message{}, validation(op, "invalid media attachment")
	}

	data := docstore.Data{
		"conversationId": req.ConversationID,
		"senderId":       req.SenderID,
		"text":           req.Text,
		"createdAt":      docstore.ServerTimestamp,
		"read":           false,
	}
	if req.Media != nil {
		data["media"] = req.Media
	}
	if req.ReplyTo != nil {
		data["replyTo"] = req.ReplyTo
	}

	var msgID string
	err := s.store.RunTransaction(ctx, func(ctx context.Context, t *docstore.Txn) error {
		conv, err := loadConversation(t, op, req.ConversationID)
		if err != nil {
			return err
		}
		if !conv.IsParticipant(req.SenderID) {
			return permissionDenied(op, "%s is not a participant", req.SenderID)
		}
		if !conv.CanPost(req.SenderID) {
			return permissionDenied(op, "only admins can post in this group")
		}
		msgID = t.Create(messagesCollection(req.ConversationID), data)
		t.Update(conversationPath(req.ConversationID), map[string]any{
			"lastMessage": map[string]any{
				"text":      Preview(req.Text, req.Media),
				"timestamp": docstore.ServerTimestamp,
				"senderId":  req.SenderID,
			},
			"updatedAt": docstore.ServerTimestamp,
		})
		return nil
	})
	if err != nil {
		if IsPermissionDenied(err) {
			s.metrics.PermissionDenied(op)
		}
		return Message{}, fromStore(op, err)
	}

	s.metrics.MessageSent(contentKind(req.Media))
	s.logger.Debug("message sent",
		"conversation", req.ConversationID,
		"message", msgID,
		"sender", req.SenderID)

	// Read back for the store-assigned createdAt and seq.
	doc, err := s.store.Get(ctx, messagePath(req.ConversationID, msgID))
	if err != nil {
		return Message{}, fromStore(op, err)
	}
	return MessageFromDoc(doc)
}

// MediaRequest describes an attachment to upload and send.
type MediaRequest struct {
	ConversationID string
	SenderID       string
	Caption        string
	File           media.File
	ReplyTo        *ReplyRef
}

// SendMedia uploads the file and sends it. Nothing is written when the
// upload fails.
func (s *Service) SendMedia(ctx context.Context, req MediaRequest) (Message, error) {
	const op = "send media"

	if s.uploader == nil {
		return Message{}, newError(CodeUploadFailure, op, "no uploader configured")
	}

	// Fail fast before uploading for callers who could never send.
	conv, err := s.Conversation(ctx, req.ConversationID)
	if err != nil {
		return Message{}, err
	}
	if !conv.IsParticipant(req.SenderID) || !conv.CanPost(req.SenderID) {
		s.metrics.PermissionDenied(op)
		return Message{}, permissionDenied(op, "%s cannot post here", req.SenderID)
	}

	res, err := s.uploader.Upload(ctx, req.File)
	if err != nil {
		s.metrics.Upload("failed")
		s.logger.Warn("upload failed", "conversation", req.ConversationID, "file", req.File.Name, "error", err)
		return Message{}, &Error{Code: CodeUploadFailure, Op: op, Message: req.File.Name, Err: err}
	}
	s.metrics.Upload("ok")

	kind := res.Kind
	if !kind.Valid() {
		kind = media.DetectKind(req.File)
	}
	return s.Send(ctx, SendRequest{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Text:           req.Caption,
		Media:          &Media{URL: res.SecureURL, Type: kind, FileName: req.File.Name},
		ReplyTo:        req.ReplyTo,
	})
}

// historyQuery selects the most recent limit messages in ascending order.
func historyQuery(conversationID string, limit int) docstore.Query {
	return docstore.From(messagesCollection(conversationID)).
		OrderBy("createdAt", docstore.Asc).
		LimitToLast(limit)
}

func (s *Service) limit(n int) int {
	if n <= 0 {
		return s.historyLimit
	}
	return n
}

func (s *Service) decodeMessages(docs []*docstore.Document) []Message {
	out := make([]Message, 0, len(docs))
	for _, d := range docs {
		m, err := MessageFromDoc(d)
		if err != nil {
			s.logger.Warn("skipping undecodable message", "message", d.Path, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out
}

// Messages reads the most recent limit messages. limit <= 0 uses the
// configured history limit.
func (s *Service) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	docs, err := s.store.Query(ctx, historyQuery(conversationID, s.limit(limit)))
	if err != nil {
		return nil, fromStore("messages", err)
	}
	return s.decodeMessages(docs), nil
}

// SubscribeMessages delivers the most recent limit messages on every
// change. Each delivery is the full ordered list and replaces the
// previous one.
func (s *Service) SubscribeMessages(ctx context.Context, conversationID string, limit int, fn func([]Message)) (*docstore.Subscription, error) {
	sub, err := s.store.Subscribe(ctx, historyQuery(conversationID, s.limit(limit)), func(snap docstore.Snapshot) {
		fn(s.decodeMessages(snap.Docs))
	})
	if err != nil {
		return nil, fromStore("subscribe messages", err)
	}
	return sub, nil
}

// React sets or, with an empty reaction, clears the reaction on a message.
func (s *Service) React(ctx context.Context, conversationID, messageID, reaction string) error {
	const op = "react"

	var value any = reaction
	if reaction == "" {
		value = docstore.DeleteField
	}
	err := s.store.Update(ctx, messagePath(conversationID, messageID), map[string]any{"reaction": value})
	if docstore.IsNotFound(err) {
		return notFound(op, "message %s does not exist", messageID)
	}
	if err != nil {
		return fromStore(op, err)
	}
	return nil
}

// Message reads one message.
func (s *Service) Message(ctx context.Context, conversationID, messageID string) (Message, error) {
	doc, err := s.store.Get(ctx, messagePath(conversationID, messageID))
	if err != nil {
		if docstore.IsNotFound(err) {
			return Message{}, notFound("message", "message %s does not exist", messageID)
		}
		return Message{}, fromStore("message", err)
	}
	return MessageFromDoc(doc)
}

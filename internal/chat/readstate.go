package chat

import (
	"context"
	"log/slog"

	"github.com/roach88/chatsync/internal/docstore"
)

func unreadQuery(conversationID string) docstore.Query {
	return docstore.From(messagesCollection(conversationID)).
		Where("read", docstore.OpEqual, false)
}

// MarkAsRead marks every unread message from the reference message's
// sender with createdAt <= the reference's createdAt as read, in one batch.
// Messages sharing the reference's millisecond are included.
//
// Store failures are logged and swallowed; the result is then 0.
func (s *Service) MarkAsRead(ctx context.Context, conversationID, referenceID string) (int, error) {
	log := s.logger.With("conversation", conversationID, "reference", referenceID)

	doc, err := s.store.Get(ctx, messagePath(conversationID, referenceID))
	if docstore.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		log.Warn("mark as read: load reference failed", "error", err)
		return 0, nil
	}
	ref, err := MessageFromDoc(doc)
	if err != nil {
		log.Warn("mark as read: decode reference failed", "error", err)
		return 0, nil
	}

	docs, err := s.store.Query(ctx, unreadQuery(conversationID).Where("senderId", docstore.OpEqual, ref.SenderID))
	if err != nil {
		log.Warn("mark as read: query failed", "error", err)
		return 0, nil
	}

	var targets []string
	for _, m := range s.decodeMessages(docs) {
		if m.CreatedAt <= ref.CreatedAt {
			targets = append(targets, m.ID)
		}
	}
	return s.markRead(ctx, log, conversationID, targets), nil
}

// MarkAllFromOthers marks every unread message not sent by viewer as read.
// Store failures are logged and swallowed.
func (s *Service) MarkAllFromOthers(ctx context.Context, conversationID, viewer string) (int, error) {
	log := s.logger.With("conversation", conversationID, "viewer", viewer)

	docs, err := s.store.Query(ctx, unreadQuery(conversationID))
	if err != nil {
		log.Warn("mark all read: query failed", "error", err)
		return 0, nil
	}

	var targets []string
	for _, m := range s.decodeMessages(docs) {
		if m.SenderID != viewer {
			targets = append(targets, m.ID)
		}
	}
	return s.markRead(ctx, log, conversationID, targets), nil
}

func (s *Service) markRead(ctx context.Context, log *slog.Logger, conversationID string, ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	b := s.store.Batch()
	for _, id := range ids {
		b.Update(messagePath(conversationID, id), map[string]any{"read": true})
	}
	b.Update(conversationPath(conversationID), map[string]any{"readAt": docstore.ServerTimestamp})
	if err := b.Commit(ctx); err != nil {
		log.Warn("mark read: commit failed", "messages", len(ids), "error", err)
		return 0
	}
	s.metrics.MarkedRead(len(ids))
	return len(ids)
}

// UnreadCount counts unread messages in a conversation not sent by user.
func (s *Service) UnreadCount(ctx context.Context, conversationID, user string) (int, error) {
	docs, err := s.store.Query(ctx, unreadQuery(conversationID).Where("senderId", docstore.OpNotEqual, user))
	if err != nil {
		return 0, fromStore("unread count", err)
	}
	return len(docs), nil
}

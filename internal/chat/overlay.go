package chat

import (
	"context"

	"github.com/roach88/chatsync/internal/docstore"
)

// setOverlay adds or removes user from one of the per-user overlay sets.
func (s *Service) setOverlay(ctx context.Context, op, field, conversationID, user string, on bool) error {
	return s.mutate(ctx, op, conversationID, func(c *Conversation) (map[string]any, error) {
		if !c.IsParticipant(user) {
			return nil, permissionDenied(op, "%s is not a participant", user)
		}
		if on {
			return map[string]any{field: docstore.ArrayUnion(user)}, nil
		}
		return map[string]any{field: docstore.ArrayRemove(user)}, nil
	})
}

// SetPinned pins or unpins the conversation for user.
func (s *Service) SetPinned(ctx context.Context, conversationID, user string, pinned bool) error {
	return s.setOverlay(ctx, "pin", "pinnedBy", conversationID, user, pinned)
}

// SetMuted mutes or unmutes message alerts for user.
func (s *Service) SetMuted(ctx context.Context, conversationID, user string, muted bool) error {
	return s.setOverlay(ctx, "mute", "mutedBy", conversationID, user, muted)
}

// SetCallMuted mutes or unmutes call alerts for user.
func (s *Service) SetCallMuted(ctx context.Context, conversationID, user string, muted bool) error {
	return s.setOverlay(ctx, "mute calls", "callMutedBy", conversationID, user, muted)
}

// SetGeneral moves the conversation to the general tab (true) or back to
// primary (false) for user.
func (s *Service) SetGeneral(ctx context.Context, conversationID, user string, general bool) error {
	return s.setOverlay(ctx, "move", "generalBy", conversationID, user, general)
}

package chat

import (
	"context"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/chatsync/internal/docstore"
)

func requireGroup(op string, c *Conversation) error {
	if !c.IsGroup {
		return validation(op, "%s is not a group", c.ID)
	}
	return nil
}

func requireAdmin(op string, c *Conversation, actor string) error {
	if err := requireGroup(op, c); err != nil {
		return err
	}
	if !c.IsAdmin(actor) {
		return permissionDenied(op, "%s is not an admin of %s", actor, c.ID)
	}
	return nil
}

// Join adds user to a public group.
func (s *Service) Join(ctx context.Context, conversationID, user string) error {
	const op = "join"
	return s.mutate(ctx, op, conversationID, func(c *Conversation) (map[string]any, error) {
		if !c.IsGroup {
			return nil, validation(op, "direct conversations cannot be joined")
		}
		if c.IsPrivateGroup {
			return nil, newError(CodeForbidden, op, "%s is a private group", c.ID)
		}
		if c.IsParticipant(user) {
			return nil, nil
		}
		return map[string]any{
			"participants": docstore.ArrayUnion(user),
		}, nil
	})
}

// AddMembers adds users to a group. Admin only.
func (s *Service) AddMembers(ctx context.Context, conversationID, actor string, members []string) error {
	const op = "add members"
	if len(members) == 0 {
		return validation(op, "no members given")
	}
	return s.mutate(ctx, op, conversationID, func(c *Conversation) (map[string]any, error) {
		if err := requireAdmin(op, c, actor); err != nil {
			return nil, err
		}
		add := make([]any, 0, len(members))
		for _, m := range members {
			if m != "" && !c.IsParticipant(m) {
				add = append(add, m)
			}
		}
		if len(add) == 0 {
			return nil, nil
		}
		return map[string]any{
			"participants": docstore.ArrayUnion(add...),
		}, nil
	})
}

// Leave removes user from a group. When the last admin leaves and members
// remain, the earliest remaining participant becomes admin in the same
// write.
func (s *Service) Leave(ctx context.Context, conversationID, user string) error {
	const op = "leave"
	return s.mutate(ctx, op, conversationID, func(c *Conversation) (map[string]any, error) {
		if err := requireGroup(op, c); err != nil {
			return nil, err
		}
		if !c.IsParticipant(user) {
			return nil, validation(op, "%s is not a participant", user)
		}
		updates := map[string]any{
			"participants": docstore.ArrayRemove(user),
			"adminIds":     docstore.ArrayRemove(user),
		}
		if c.IsAdmin(user) && len(c.AdminIDs) == 1 {
			if next := c.Partner(user); next != "" {
				updates["adminIds"] = []string{next}
				s.logger.Info("promoting admin after last admin left",
					"conversation", c.ID, "left", user, "admin", next)
			}
		}
		return updates, nil
	})
}

// Remove takes member out of a group. Admin only; admins leave with Leave.
func (s *Service) Remove(ctx context.Context, conversationID, actor, member string) error {
	const op = "remove member"
	return s.mutate(ctx, op, conversationID, func(c *Conversation) (map[string]any, error) {
		if err := requireAdmin(op, c, actor); err != nil {
			return nil, err
		}
		if member == actor {
			return nil, validation(op, "use leave to remove yourself")
		}
		if !c.IsParticipant(member) {
			return nil, validation(op, "%s is not a participant", member)
		}
		return map[string]any{
			"participants": docstore.ArrayRemove(member),
			"adminIds":     docstore.ArrayRemove(member),
		}, nil
	})
}

// ToggleAdmin grants or revokes admin. Admin only. The last remaining
// admin cannot be demoted.
func (s *Service) ToggleAdmin(ctx context.Context, conversationID, actor, member string, makeAdmin bool) error {
	const op = "toggle admin"
	return s.mutate(ctx, op, conversationID, func(c *Conversation) (map[string]any, error) {
		if err := requireAdmin(op, c, actor); err != nil {
			return nil, err
		}
		if !c.IsParticipant(member) {
			return nil, validation(op, "%s is not a participant", member)
		}
		if makeAdmin {
			if c.IsAdmin(member) {
				return nil, nil
			}
			return map[string]any{"adminIds": docstore.ArrayUnion(member)}, nil
		}
		if !c.IsAdmin(member) {
			return nil, nil
		}
		if len(c.AdminIDs) == 1 {
			return nil, validation(op, "cannot demote the last admin")
		}
		return map[string]any{"adminIds": docstore.ArrayRemove(member)}, nil
	})
}

// UpdatePermissions sets whether only admins may post. Admin only.
func (s *Service) UpdatePermissions(ctx context.Context, conversationID, actor string, onlyAdmins bool) error {
	const op = "update permissions"
	return s.mutate(ctx, op, conversationID, func(c *Conversation) (map[string]any, error) {
		if err := requireAdmin(op, c, actor); err != nil {
			return nil, err
		}
		return map[string]any{"onlyAdminsCanPost": onlyAdmins}, nil
	})
}

// UpdateName renames a group. Admin only.
func (s *Service) UpdateName(ctx context.Context, conversationID, actor, name string) error {
	const op = "rename"
	name = strings.TrimSpace(name)
	if name == "" {
		return validation(op, "group name is required")
	}
	return s.mutate(ctx, op, conversationID, func(c *Conversation) (map[string]any, error) {
		if err := requireAdmin(op, c, actor); err != nil {
			return nil, err
		}
		return map[string]any{"groupName": name}, nil
	})
}

// UpdateAvatar sets a group's avatar URL. An empty URL restores the
// generated default. Admin only.
func (s *Service) UpdateAvatar(ctx context.Context, conversationID, actor, avatarURL string) error {
	const op = "update avatar"
	return s.mutate(ctx, op, conversationID, func(c *Conversation) (map[string]any, error) {
		if err := requireAdmin(op, c, actor); err != nil {
			return nil, err
		}
		if avatarURL == "" {
			avatarURL = DefaultGroupAvatar(c.GroupName)
		}
		return map[string]any{"groupAvatar": avatarURL}, nil
	})
}

// Delete removes a conversation and all of its messages. Groups require an
// admin; direct conversations either participant.
func (s *Service) Delete(ctx context.Context, conversationID, actor string) error {
	const op = "delete"
	err := s.store.RunTransaction(ctx, func(ctx context.Context, t *docstore.Txn) error {
		c, err := loadConversation(t, op, conversationID)
		if err != nil {
			return err
		}
		if c.IsGroup {
			if !c.IsAdmin(actor) {
				return permissionDenied(op, "%s is not an admin of %s", actor, c.ID)
			}
		} else if !c.IsParticipant(actor) {
			return permissionDenied(op, "%s is not a participant", actor)
		}
		t.Delete(conversationPath(conversationID))
		return nil
	})
	if err != nil {
		if IsPermissionDenied(err) {
			s.metrics.PermissionDenied(op)
		}
		return fromStore(op, err)
	}
	s.logger.Info("conversation deleted", "conversation", conversationID, "actor", actor)
	return nil
}

// SearchPublicGroups returns up to SearchLimit public groups whose name
// contains term, ignoring case. An empty term matches all of them.
func (s *Service) SearchPublicGroups(ctx context.Context, term string) ([]*Conversation, error) {
	q := docstore.From(CollectionChats).
		Where("isGroup", docstore.OpEqual, true).
		Where("isPrivateGroup", docstore.OpEqual, false).
		Limit(SearchLimit)
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, fromStore("search groups", err)
	}

	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(term))
	var out []*Conversation
	for _, d := range docs {
		c, err := ConversationFromDoc(d)
		if err != nil {
			continue
		}
		if needle == "" || strings.Contains(fold.String(c.GroupName), needle) {
			out = append(out, c)
		}
	}
	return out, nil
}

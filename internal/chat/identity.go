package chat

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/chatsync/internal/docstore"
)

// DirectID returns the conversation id shared by two users. It is
// symmetric: DirectID(a, b) == DirectID(b, a). Ids are NFC-normalised so
// visually identical ids map to the same conversation. Participants are
// stored exactly as given.
func DirectID(a, b string) string {
	ids := []string{norm.NFC.String(a), norm.NFC.String(b)}
	sort.Strings(ids)
	return ids[0] + "_" + ids[1]
}

// DefaultGroupAvatar returns the generated avatar URL for a group name.
func DefaultGroupAvatar(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.PathEscape(name) + "&background=random"
}

// GroupRequest describes a new group.
type GroupRequest struct {
	CreatorID string
	Name      string
	MemberIDs []string
	Private   bool
	Avatar    string
}

// CreateGroup creates a group with the creator as its only admin and seeds
// it with a system message. Everything is written in one batch.
func (s *Service) CreateGroup(ctx context.Context, req GroupRequest) (*Conversation, error) {
	const op = "create group"

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validation(op, "group name is required")
	}
	if req.CreatorID == "" {
		return nil, validation(op, "creator is required")
	}

	participants := []string{req.CreatorID}
	seen := map[string]bool{req.CreatorID: true}
	for _, m := range req.MemberIDs {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		participants = append(participants, m)
	}
	if len(participants) < 2 {
		return nil, validation(op, "a group needs at least one member besides the creator")
	}

	avatar := req.Avatar
	if avatar == "" {
		avatar = DefaultGroupAvatar(name)
	}

	id := s.ids.Generate()
	b := s.store.Batch()
	b.Set(conversationPath(id), docstore.Data{
		"isGroup":           true,
		"participants":      participants,
		"adminIds":          []string{req.CreatorID},
		"onlyAdminsCanPost": false,
		"isPrivateGroup":    req.Private,
		"groupName":         name,
		"groupAvatar":       avatar,
		"createdBy":         req.CreatorID,
		"pinnedBy":          []string{},
		"mutedBy":           []string{},
		"callMutedBy":       []string{},
		"generalBy":         []string{},
		"lastMessage": map[string]any{
			"text":      name + " created",
			"timestamp": docstore.ServerTimestamp,
			"senderId":  SystemSenderID,
		},
		"updatedAt": docstore.ServerTimestamp,
	})
	b.Create(messagesCollection(id), docstore.Data{
		"conversationId": id,
		"senderId":       SystemSenderID,
		"text":           `Group "` + name + `" created`,
		"createdAt":      docstore.ServerTimestamp,
		"read":           true,
	})
	if err := b.Commit(ctx); err != nil {
		return nil, fromStore(op, err)
	}

	s.logger.Info("group created",
		"conversation", id,
		"creator", req.CreatorID,
		"members", len(participants),
		"private", req.Private)

	return s.Conversation(ctx, id)
}

// StartDirect returns the direct conversation of a and b, creating it on
// first use.
func (s *Service) StartDirect(ctx context.Context, a, b string) (string, error) {
	const op = "start direct"

	if a == "" || b == "" {
		return "", validation(op, "both participants are required")
	}
	if norm.NFC.String(a) == norm.NFC.String(b) {
		return "", validation(op, "cannot start a conversation with yourself")
	}

	id := DirectID(a, b)
	err := s.store.RunTransaction(ctx, func(ctx context.Context, t *docstore.Txn) error {
		_, err := t.Get(conversationPath(id))
		if err == nil {
			return nil
		}
		if !docstore.IsNotFound(err) {
			return err
		}
		t.Set(conversationPath(id), directDoc(a, b))
		return nil
	})
	if err != nil {
		return "", fromStore(op, err)
	}
	return id, nil
}

func directDoc(a, b string) docstore.Data {
	parts := []string{a, b}
	sort.Strings(parts)
	return docstore.Data{
		"isGroup":        false,
		"participants":   parts,
		"isPrivateGroup": false,
		"createdBy":      a,
		"pinnedBy":       []string{},
		"mutedBy":        []string{},
		"callMutedBy":    []string{},
		"generalBy":      []string{},
		"updatedAt":      docstore.ServerTimestamp,
	}
}

// EnsureAssistant makes sure user has a direct conversation with the
// assistant, seeding it with the greeting on first use. It returns the
// conversation id, or "" when user is the assistant.
func (s *Service) EnsureAssistant(ctx context.Context, user string) (string, error) {
	const op = "ensure assistant"

	bot := s.assistant
	if user == "" {
		return "", validation(op, "user is required")
	}
	if user == bot.ID {
		return "", nil
	}

	if err := s.PutUser(ctx, bot); err != nil {
		return "", err
	}

	id := DirectID(user, bot.ID)
	created := false
	err := s.store.RunTransaction(ctx, func(ctx context.Context, t *docstore.Txn) error {
		_, err := t.Get(conversationPath(id))
		if err == nil {
			return nil
		}
		if !docstore.IsNotFound(err) {
			return err
		}
		doc := directDoc(user, bot.ID)
		doc["lastMessage"] = map[string]any{
			"text":      s.greeting,
			"timestamp": docstore.ServerTimestamp,
			"senderId":  bot.ID,
		}
		t.Set(conversationPath(id), doc)
		t.Create(messagesCollection(id), docstore.Data{
			"conversationId": id,
			"senderId":       bot.ID,
			"text":           s.greeting,
			"createdAt":      docstore.ServerTimestamp,
			"read":           false,
		})
		created = true
		return nil
	})
	if err != nil {
		return "", fromStore(op, err)
	}
	if created {
		s.logger.Info("assistant conversation created", "conversation", id, "user", user)
	}
	return id, nil
}

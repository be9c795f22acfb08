package chat

import (
	"context"

	"github.com/roach88/chatsync/internal/docstore"
)

// PutUser creates or merges a user record.
func (s *Service) PutUser(ctx context.Context, u User) error {
	const op = "put user"
	if u.ID == "" {
		return validation(op, "user id is required")
	}
	data := docstore.Data{
		"name":  u.Name,
		"isBot": u.IsBot,
	}
	if u.Handle != "" {
		data["handle"] = u.Handle
	}
	if u.AvatarURL != "" {
		data["avatar"] = u.AvatarURL
	}
	if err := s.store.Set(ctx, userPath(u.ID), data, docstore.Merge()); err != nil {
		return fromStore(op, err)
	}
	return nil
}

// User reads a user record.
func (s *Service) User(ctx context.Context, id string) (*User, error) {
	doc, err := s.store.Get(ctx, userPath(id))
	if docstore.IsNotFound(err) {
		return nil, notFound("user", "user %s does not exist", id)
	}
	if err != nil {
		return nil, fromStore("user", err)
	}
	return UserFromDoc(doc)
}

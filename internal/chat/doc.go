// Package chat implements conversation identity, message storage, read
// state and group membership on top of a document store.
//
// # Document layout
//
//	users/{userId}
//	chats/{conversationId}
//	chats/{conversationId}/messages/{messageId}
//
// A direct conversation's id is DirectID of its two participants. A group's
// id is generated once at creation and never derived from its members.
//
// # Permissions
//
//   - Only participants may send, and only admins when onlyAdminsCanPost
//     is set. The check runs inside the send transaction.
//   - Membership edits, renames, permission changes and group deletion are
//     admin-only. Private groups cannot be joined.
//   - A group always keeps at least one admin while it has members.
//
// Permission and validation failures never write anything.
package chat

package chat

import (
	"slices"
	"time"

	"github.com/roach88/chatsync/internal/docstore"
	"github.com/roach88/chatsync/internal/media"
)

const (
	CollectionUsers    = "users"
	CollectionChats    = "chats"
	CollectionMessages = "messages"

	// SystemSenderID authors group lifecycle messages.
	SystemSenderID = "system"
)

// Conversation is a direct or group chat document.
type Conversation struct {
	ID                string       `json:"-"`
	IsGroup           bool         `json:"isGroup"`
	Participants      []string     `json:"participants"`
	AdminIDs          []string     `json:"adminIds,omitempty"`
	OnlyAdminsCanPost bool         `json:"onlyAdminsCanPost"`
	IsPrivateGroup    bool         `json:"isPrivateGroup"`
	GroupName         string       `json:"groupName,omitempty"`
	GroupAvatar       string       `json:"groupAvatar,omitempty"`
	CreatedBy         string       `json:"createdBy,omitempty"`
	PinnedBy          []string     `json:"pinnedBy,omitempty"`
	MutedBy           []string     `json:"mutedBy,omitempty"`
	CallMutedBy       []string     `json:"callMutedBy,omitempty"`
	GeneralBy         []string     `json:"generalBy,omitempty"`
	LastMessage       *LastMessage `json:"lastMessage,omitempty"`
	UpdatedAt         int64        `json:"updatedAt,omitempty"`
	// ReadAt is bumped whenever messages are marked read so conversation
	// subscribers refresh their unread counts.
	ReadAt int64 `json:"readAt,omitempty"`
}

// LastMessage is the preview stored on the conversation.
type LastMessage struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	SenderID  string `json:"senderId,omitempty"`
}

// Time returns the preview timestamp.
func (l LastMessage) Time() time.Time {
	return time.UnixMilli(l.Timestamp)
}

// IsParticipant reports whether user belongs to the conversation.
func (c *Conversation) IsParticipant(user string) bool {
	return slices.Contains(c.Participants, user)
}

// IsAdmin reports whether user is a group admin.
func (c *Conversation) IsAdmin(user string) bool {
	return slices.Contains(c.AdminIDs, user)
}

// CanPost is the posting gate.
func (c *Conversation) CanPost(user string) bool {
	return !c.OnlyAdminsCanPost || c.IsAdmin(user)
}

// Pinned reports the user's pin overlay.
func (c *Conversation) Pinned(user string) bool { return slices.Contains(c.PinnedBy, user) }

// Muted reports the user's mute overlay.
func (c *Conversation) Muted(user string) bool { return slices.Contains(c.MutedBy, user) }

// CallMuted reports the user's call-mute overlay.
func (c *Conversation) CallMuted(user string) bool { return slices.Contains(c.CallMutedBy, user) }

// InGeneral reports whether the user moved the conversation to the general tab.
func (c *Conversation) InGeneral(user string) bool { return slices.Contains(c.GeneralBy, user) }

// Partner returns the other participant of a direct conversation.
func (c *Conversation) Partner(user string) string {
	for _, p := range c.Participants {
		if p != user {
			return p
		}
	}
	return ""
}

// Media is an attachment on a message.
type Media struct {
	URL      string     `json:"url"`
	Type     media.Kind `json:"type"`
	FileName string     `json:"fileName,omitempty"`
}

// ReplyRef quotes the message being replied to.
type ReplyRef struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	SenderID string `json:"senderId"`
}

// Message is one entry of a conversation.
type Message struct {
	ID             string    `json:"-"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text"`
	CreatedAt      int64     `json:"createdAt"`
	Read           bool      `json:"read"`
	Reaction       string    `json:"reaction,omitempty"`
	Media          *Media    `json:"media,omitempty"`
	ReplyTo        *ReplyRef `json:"replyTo,omitempty"`

	// Seq is the store insertion sequence, the tie-breaker of the total order.
	Seq int64 `json:"-"`
}

// Time returns the creation time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.CreatedAt)
}

// Before reports whether m precedes o in the conversation's total order.
func (m Message) Before(o Message) bool {
	if m.CreatedAt != o.CreatedAt {
		return m.CreatedAt < o.CreatedAt
	}
	return m.Seq < o.Seq
}

// User is a directory record.
type User struct {
	ID        string `json:"-"`
	Name      string `json:"name"`
	Handle    string `json:"handle,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
	IsBot     bool   `json:"isBot,omitempty"`
}

func conversationPath(id string) string {
	return docstore.Join(CollectionChats, id)
}

func messagesCollection(conversationID string) string {
	return docstore.Join(CollectionChats, conversationID, CollectionMessages)
}

func messagePath(conversationID, messageID string) string {
	return docstore.Join(CollectionChats, conversationID, CollectionMessages, messageID)
}

func userPath(id string) string {
	return docstore.Join(CollectionUsers, id)
}

// ConversationFromDoc decodes a conversation document.
func ConversationFromDoc(d *docstore.Document) (*Conversation, error) {
	var c Conversation
	if err := d.DataTo(&c); err != nil {
		return nil, err
	}
	c.ID = d.ID
	return &c, nil
}

// MessageFromDoc decodes a message document.
func MessageFromDoc(d *docstore.Document) (Message, error) {
	var m Message
	if err := d.DataTo(&m); err != nil {
		return Message{}, err
	}
	m.ID = d.ID
	m.Seq = d.Seq
	return m, nil
}

// UserFromDoc decodes a user document.
func UserFromDoc(d *docstore.Document) (*User, error) {
	var u User
	if err := d.DataTo(&u); err != nil {
		return nil, err
	}
	u.ID = d.ID
	return &u, nil
}

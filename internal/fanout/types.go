package fanout

import (
	"sort"
	"sync"

	"github.com/roach88/chatsync/internal/chat"
)

// DefaultGroupName names groups without a name.
const DefaultGroupName = "Group Chat"

// DefaultPreview is shown for conversations without messages.
const DefaultPreview = "Started a conversation"

// PartnerKind tags a Partner.
type PartnerKind int

const (
	PartnerDirect PartnerKind = iota + 1
	PartnerGroup
)

// GroupSummary is the partner of a group conversation.
type GroupSummary struct {
	ID            string
	Name          string
	AvatarURL     string
	Members       int
	Private       bool
	OnlyAdmins    bool
	ViewerIsAdmin bool
}

// Partner is who a chat list entry is with: another user for direct
// conversations, the group itself otherwise.
type Partner struct {
	Kind  PartnerKind
	User  chat.User
	Group GroupSummary
}

// DirectPartner wraps a user.
func DirectPartner(u chat.User) Partner {
	return Partner{Kind: PartnerDirect, User: u}
}

// GroupPartner wraps a group summary.
func GroupPartner(g GroupSummary) Partner {
	return Partner{Kind: PartnerGroup, Group: g}
}

// ID returns the user id or the group's conversation id.
func (p Partner) ID() string {
	if p.Kind == PartnerGroup {
		return p.Group.ID
	}
	return p.User.ID
}

// Name returns the display name.
func (p Partner) Name() string {
	if p.Kind == PartnerGroup {
		return p.Group.Name
	}
	return p.User.Name
}

// Avatar returns the display avatar URL.
func (p Partner) Avatar() string {
	if p.Kind == PartnerGroup {
		return p.Group.AvatarURL
	}
	return p.User.AvatarURL
}

// Entry is one row of a user's chat list.
type Entry struct {
	ConversationID string
	Partner        Partner
	LastMessage    chat.LastMessage
	Unread         int
	Pinned         bool
	Muted          bool
	CallMuted      bool
	General        bool
}

// SortEntries orders pinned entries first, then by last message time
// descending, then by conversation id.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.LastMessage.Timestamp != b.LastMessage.Timestamp {
			return a.LastMessage.Timestamp > b.LastMessage.Timestamp
		}
		return a.ConversationID < b.ConversationID
	})
}

// Alert is a notification about a new message.
type Alert struct {
	ConversationID string
	Title          string
	Body           string
	SenderID       string
	Timestamp      int64
	AvatarURL      string
}

// Notifier displays alerts. Toast is the in-app banner; Push is the OS
// notification.
type Notifier interface {
	Toast(a Alert)
	Push(a Alert)
}

// View is a snapshot of the user's client state.
type View struct {
	// Viewing is the conversation currently open, or "".
	Viewing     string
	Foreground  bool
	PushGranted bool
}

// ViewState tracks the user's client state. Safe for concurrent use.
type ViewState struct {
	mu sync.Mutex
	v  View
}

// NewViewState starts in the foreground with nothing open.
func NewViewState() *ViewState {
	return &ViewState{v: View{Foreground: true}}
}

// SetViewing records the open conversation; "" closes it.
func (s *ViewState) SetViewing(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Viewing = conversationID
}

// SetForeground records whether the app is visible.
func (s *ViewState) SetForeground(fg bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Foreground = fg
}

// SetPushGranted records the OS notification permission.
func (s *ViewState) SetPushGranted(granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.PushGranted = granted
}

// Snapshot returns the current state.
func (s *ViewState) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

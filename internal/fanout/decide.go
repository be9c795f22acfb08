package fanout

import (
	"time"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/docstore"
)

// DefaultRecencyWindow is how old a last message may be and still alert.
const DefaultRecencyWindow = 5 * time.Second

// Reason explains a suppressed alert.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonNotModified Reason = "not_modified"
	ReasonNoMessage   Reason = "no_message"
	ReasonMuted       Reason = "muted"
	ReasonOwnMessage  Reason = "own_message"
	ReasonDuplicate   Reason = "duplicate"
	ReasonStale       Reason = "stale"
	ReasonViewing     Reason = "viewing"
)

// DecisionInput is everything Decide looks at.
type DecisionInput struct {
	Change       docstore.ChangeType
	Conversation *chat.Conversation
	User         string
	View         View
	Now          time.Time
	Window       time.Duration
	// LastSeen is the newest last-message timestamp already decided on for
	// this conversation, 0 if none. Changes that leave the last message
	// alone never alert twice.
	LastSeen int64
}

// Decision is the outcome for one change.
type Decision struct {
	Toast  bool
	Push   bool
	Reason Reason
}

// Decide determines whether a conversation change alerts the user.
// Only modifications alert; additions from the initial load never do.
func Decide(in DecisionInput) Decision {
	if in.Change != docstore.ChangeModified {
		return Decision{Reason: ReasonNotModified}
	}
	c := in.Conversation
	if c == nil || c.LastMessage == nil {
		return Decision{Reason: ReasonNoMessage}
	}
	if c.Muted(in.User) {
		return Decision{Reason: ReasonMuted}
	}
	last := c.LastMessage
	if last.SenderID == in.User {
		return Decision{Reason: ReasonOwnMessage}
	}
	if in.LastSeen != 0 && last.Timestamp <= in.LastSeen {
		return Decision{Reason: ReasonDuplicate}
	}
	window := in.Window
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	if in.Now.Sub(last.Time()) >= window {
		return Decision{Reason: ReasonStale}
	}
	if in.View.Viewing == c.ID && in.View.Foreground {
		return Decision{Reason: ReasonViewing}
	}
	return Decision{
		Toast: true,
		Push:  !in.View.Foreground && in.View.PushGranted,
	}
}

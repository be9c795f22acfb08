package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/fanout"
	"github.com/roach88/chatsync/internal/media"
)

// idResult reports the id of a conversation or message.
type idResult struct {
	ID string `json:"id"`
}

func (r idResult) WriteText(w io.Writer) { fmt.Fprintln(w, r.ID) }

// countResult reports how many messages an operation touched.
type countResult struct {
	Marked int `json:"marked"`
}

func (r countResult) WriteText(w io.Writer) {
	fmt.Fprintf(w, "%d message(s) marked read\n", r.Marked)
}

// okResult acknowledges an operation without a payload.
type okResult struct {
	Message string `json:"message"`
}

func (r okResult) WriteText(w io.Writer) { fmt.Fprintln(w, r.Message) }

// NewDirectCommand creates the dm command.
func NewDirectCommand(rootOpts *RootOptions) *cobra.Command {
	var withAssistant bool

	cmd := &cobra.Command{
		Use:   "dm <user> [other]",
		Short: "Open the direct conversation between two users",
		Long: `Open, creating if needed, the direct conversation between two users
and print its id. With --assistant the other side is the assistant, which
greets the user the first time.

Example:
  chatsync dm alice bob
  chatsync dm alice --assistant`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			if withAssistant == (len(args) == 2) {
				return NewExitError(ExitCommandError, "give exactly one of <other> or --assistant")
			}
			return withApp(rootOpts, cmd.ErrOrStderr(), func(a *app) error {
				var (
					id  string
					err error
				)
				if withAssistant {
					id, err = a.svc.EnsureAssistant(cmd.Context(), args[0])
					if err == nil && id == "" {
						err = fmt.Errorf("assistant conversation unavailable")
					}
				} else {
					id, err = a.svc.StartDirect(cmd.Context(), args[0], args[1])
				}
				if err != nil {
					return out.Fail("failed to open conversation", err)
				}
				return out.Success(idResult{ID: id})
			})
		},
	}

	cmd.Flags().BoolVar(&withAssistant, "assistant", false, "open the conversation with the assistant")
	return cmd
}

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	As      string
	File    string
	ReplyTo string
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <conversation> [text]",
		Short: "Send a message",
		Long: `Send a text message, or upload --file and send it with an optional caption.

Example:
  chatsync send alice_bob "hey" --as alice
  chatsync send alice_bob "look" --as alice --file ./cat.png
  chatsync send alice_bob "sure" --as bob --reply-to <message-id>`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "", "sending user (required)")
	cmd.Flags().StringVar(&opts.File, "file", "", "attachment to upload")
	cmd.Flags().StringVar(&opts.ReplyTo, "reply-to", "", "id of the message being replied to")
	_ = cmd.MarkFlagRequired("as")

	return cmd
}

func runSend(opts *SendOptions, args []string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	conv := args[0]
	text := ""
	if len(args) == 2 {
		text = args[1]
	}

	var file media.File
	if opts.File != "" {
		f, err := media.ReadFile(opts.File)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read attachment", err)
		}
		file = f
	}

	return withApp(opts.RootOptions, cmd.ErrOrStderr(), func(a *app) error {
		ctx := cmd.Context()

		var reply *chat.ReplyRef
		if opts.ReplyTo != "" {
			quoted, err := a.svc.Message(ctx, conv, opts.ReplyTo)
			if err != nil {
				return out.Fail("failed to load replied message", err)
			}
			reply = &chat.ReplyRef{ID: quoted.ID, Text: chat.Preview(quoted.Text, quoted.Media), SenderID: quoted.SenderID}
		}

		var (
			msg chat.Message
			err error
		)
		if opts.File != "" {
			msg, err = a.svc.SendMedia(ctx, chat.MediaRequest{
				ConversationID: conv,
				SenderID:       opts.As,
				Caption:        text,
				File:           file,
				ReplyTo:        reply,
			})
		} else {
			msg, err = a.svc.Send(ctx, chat.SendRequest{
				ConversationID: conv,
				SenderID:       opts.As,
				Text:           text,
				ReplyTo:        reply,
			})
		}
		if err != nil {
			return out.Fail("failed to send", err)
		}
		out.VerboseLog("sent %s to %s", msg.ID, conv)
		return out.Success(idResult{ID: msg.ID})
	})
}

// messageView is the CLI rendering of a message.
type messageView struct {
	ID       string         `json:"id"`
	Sender   string         `json:"sender"`
	Text     string         `json:"text,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
	Read     bool           `json:"read"`
	Reaction string         `json:"reaction,omitempty"`
	Media    *chat.Media    `json:"media,omitempty"`
	ReplyTo  *chat.ReplyRef `json:"reply_to,omitempty"`
}

type historyResult struct {
	Conversation string        `json:"conversation"`
	Messages     []messageView `json:"messages"`
}

func (r historyResult) WriteText(w io.Writer) {
	if len(r.Messages) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for _, m := range r.Messages {
		var b strings.Builder
		fmt.Fprintf(&b, "%s  %s  %s: ", m.SentAt.Format("2006-01-02 15:04:05"), m.ID, m.Sender)
		if m.ReplyTo != nil {
			fmt.Fprintf(&b, "↪ %s: %q ", m.ReplyTo.SenderID, m.ReplyTo.Text)
		}
		b.WriteString(chat.Preview(m.Text, m.Media))
		if m.Media != nil {
			fmt.Fprintf(&b, " <%s>", m.Media.URL)
		}
		if m.Reaction != "" {
			fmt.Fprintf(&b, " [%s]", m.Reaction)
		}
		if m.Read {
			b.WriteString(" ✓✓")
		} else {
			b.WriteString(" ✓")
		}
		fmt.Fprintln(w, b.String())
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <conversation>",
		Short: "Print the most recent messages of a conversation",
		Long: `Print the most recent messages of a conversation, oldest first.
✓ marks a delivered message and ✓✓ a read one.

Example:
  chatsync history alice_bob --limit 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			return withApp(rootOpts, cmd.ErrOrStderr(), func(a *app) error {
				msgs, err := a.svc.Messages(cmd.Context(), args[0], limit)
				if err != nil {
					return out.Fail("failed to load messages", err)
				}
				res := historyResult{Conversation: args[0], Messages: make([]messageView, 0, len(msgs))}
				for _, m := range msgs {
					res.Messages = append(res.Messages, messageView{
						ID:       m.ID,
						Sender:   m.SenderID,
						Text:     m.Text,
						SentAt:   m.Time().UTC(),
						Read:     m.Read,
						Reaction: m.Reaction,
						Media:    m.Media,
						ReplyTo:  m.ReplyTo,
					})
				}
				return out.Success(res)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "number of messages (default from config)")
	return cmd
}

// entryView is the CLI rendering of a chat list entry.
type entryView struct {
	Conversation string    `json:"conversation"`
	Group        bool      `json:"group"`
	Name         string    `json:"name"`
	Avatar       string    `json:"avatar,omitempty"`
	Preview      string    `json:"preview"`
	Sender       string    `json:"sender,omitempty"`
	At           time.Time `json:"at"`
	Unread       int       `json:"unread"`
	Pinned       bool      `json:"pinned"`
	Muted        bool      `json:"muted"`
	CallMuted    bool      `json:"call_muted"`
	General      bool      `json:"general"`
}

type chatsResult struct {
	User    string      `json:"user"`
	Entries []entryView `json:"entries"`
	now     time.Time
}

func (r chatsResult) WriteText(w io.Writer) {
	if len(r.Entries) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	for _, e := range r.Entries {
		marks := ""
		if e.Pinned {
			marks += "📌"
		}
		if e.Muted {
			marks += "🔕"
		}
		when := ""
		if e.Sender != "" {
			when = humanize.RelTime(e.At, r.now, "ago", "from now")
		}
		line := fmt.Sprintf("%-2s %-24s %-32s %s", marks, e.Name, e.Preview, when)
		if e.Unread > 0 {
			line += fmt.Sprintf("  (%d unread)", e.Unread)
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

// NewChatsCommand creates the chats command.
func NewChatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats <user>",
		Short: "Print a user's chat list",
		Long: `Print a user's chat list: pinned conversations first, then most recent.

Example:
  chatsync chats alice
  chatsync chats alice --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			return withApp(rootOpts, cmd.ErrOrStderr(), func(a *app) error {
				entries, err := fanout.List(cmd.Context(), a.svc, args[0])
				if err != nil {
					return out.Fail("failed to list conversations", err)
				}
				res := chatsResult{User: args[0], Entries: make([]entryView, 0, len(entries)), now: time.Now()}
				for _, e := range entries {
					res.Entries = append(res.Entries, entryView{
						Conversation: e.ConversationID,
						Group:        e.Partner.Kind == fanout.PartnerGroup,
						Name:         e.Partner.Name(),
						Avatar:       e.Partner.Avatar(),
						Preview:      e.LastMessage.Text,
						Sender:       e.LastMessage.SenderID,
						At:           e.LastMessage.Time().UTC(),
						Unread:       e.Unread,
						Pinned:       e.Pinned,
						Muted:        e.Muted,
						CallMuted:    e.CallMuted,
						General:      e.General,
					})
				}
				return out.Success(res)
			})
		},
	}
	return cmd
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	var as, message string

	cmd := &cobra.Command{
		Use:   "read <conversation>",
		Short: "Mark messages as read",
		Long: `Mark messages as read.

With --message, every unread message from that message's sender up to and
including it is marked. Otherwise every unread message not sent by --as is
marked.

Example:
  chatsync read alice_bob --as bob
  chatsync read alice_bob --as bob --message <message-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			if as == "" && message == "" {
				return NewExitError(ExitCommandError, "one of --as or --message is required")
			}
			return withApp(rootOpts, cmd.ErrOrStderr(), func(a *app) error {
				var (
					n   int
					err error
				)
				if message != "" {
					n, err = a.svc.MarkAsRead(cmd.Context(), args[0], message)
				} else {
					n, err = a.svc.MarkAllFromOthers(cmd.Context(), args[0], as)
				}
				if err != nil {
					return out.Fail("failed to mark read", err)
				}
				return out.Success(countResult{Marked: n})
			})
		},
	}

	cmd.Flags().StringVar(&as, "as", "", "viewing user")
	cmd.Flags().StringVar(&message, "message", "", "reference message id")
	return cmd
}

// NewReactCommand creates the react command.
func NewReactCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "react <conversation> <message> [reaction]",
		Short: "Set or clear the reaction on a message",
		Long: `Set the reaction on a message. Omit the reaction to clear it.

Example:
  chatsync react alice_bob <message-id> ❤️
  chatsync react alice_bob <message-id>`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			reaction := ""
			if len(args) == 3 {
				reaction = args[2]
			}
			return withApp(rootOpts, cmd.ErrOrStderr(), func(a *app) error {
				if err := a.svc.React(cmd.Context(), args[0], args[1], reaction); err != nil {
					return out.Fail("failed to react", err)
				}
				if reaction == "" {
					return out.Success(okResult{Message: "reaction cleared"})
				}
				return out.Success(okResult{Message: "reacted " + reaction})
			})
		},
	}
	return cmd
}

// overlayKinds are the per-user conversation flags.
var overlayKinds = []string{"pin", "mute", "call-mute", "general"}

// NewOverlayCommand creates the overlay command.
func NewOverlayCommand(rootOpts *RootOptions) *cobra.Command {
	var as string

	cmd := &cobra.Command{
		Use:   "overlay <conversation> <pin|mute|call-mute|general> <on|off>",
		Short: "Set a per-user conversation flag",
		Long: `Set one of the user's own flags on a conversation. Flags are private
to the user: pinning or muting never affects other participants.

Example:
  chatsync overlay alice_bob pin on --as alice
  chatsync overlay g-123 mute off --as bob`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			on, err := parseSwitch(args[2])
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd.ErrOrStderr(), func(a *app) error {
				ctx := cmd.Context()
				switch args[1] {
				case "pin":
					err = a.svc.SetPinned(ctx, args[0], as, on)
				case "mute":
					err = a.svc.SetMuted(ctx, args[0], as, on)
				case "call-mute":
					err = a.svc.SetCallMuted(ctx, args[0], as, on)
				case "general":
					err = a.svc.SetGeneral(ctx, args[0], as, on)
				default:
					return NewExitError(ExitCommandError, fmt.Sprintf("unknown flag %q: must be one of %v", args[1], overlayKinds))
				}
				if err != nil {
					return out.Fail("failed to set "+args[1], err)
				}
				return out.Success(okResult{Message: fmt.Sprintf("%s %s", args[1], args[2])})
			})
		},
	}

	cmd.Flags().StringVar(&as, "as", "", "user whose flag is set (required)")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

// parseSwitch parses on/off arguments.
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	}
	return false, NewExitError(ExitCommandError, fmt.Sprintf("invalid switch %q: must be on or off", s))
}

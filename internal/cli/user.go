package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/chat"
)

// NewUserCommand creates the user command.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the user directory",
	}
	cmd.AddCommand(newUserPutCommand(rootOpts))
	cmd.AddCommand(newUserGetCommand(rootOpts))
	return cmd
}

type userView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Handle string `json:"handle,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Bot    bool   `json:"bot,omitempty"`
}

func (u userView) WriteText(w io.Writer) {
	fmt.Fprintf(w, "%s  %s", u.ID, u.Name)
	if u.Handle != "" {
		fmt.Fprintf(w, " (%s)", u.Handle)
	}
	if u.Bot {
		fmt.Fprint(w, " [bot]")
	}
	fmt.Fprintln(w)
}

func newUserPutCommand(rootOpts *RootOptions) *cobra.Command {
	var u chat.User

	cmd := &cobra.Command{
		Use:   "put <id>",
		Short: "Create or update a user record",
		Long: `Create or update a user record.

Example:
  chatsync user put alice --name "Alice" --handle @alice`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			u.ID = args[0]
			return withApp(rootOpts, cmd.ErrOrStderr(), func(a *app) error {
				if err := a.svc.PutUser(cmd.Context(), u); err != nil {
					return out.Fail("failed to save user", err)
				}
				return out.Success(userView{ID: u.ID, Name: u.Name, Handle: u.Handle, Avatar: u.AvatarURL, Bot: u.IsBot})
			})
		},
	}

	cmd.Flags().StringVar(&u.Name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&u.Handle, "handle", "", "handle")
	cmd.Flags().StringVar(&u.AvatarURL, "avatar", "", "avatar URL")
	cmd.Flags().BoolVar(&u.IsBot, "bot", false, "mark the user as a bot")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newUserGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <id>",
		Short:         "Print a user record",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			return withApp(rootOpts, cmd.ErrOrStderr(), func(a *app) error {
				u, err := a.svc.User(cmd.Context(), args[0])
				if err != nil {
					return out.Fail("failed to load user", err)
				}
				return out.Success(userView{ID: u.ID, Name: u.Name, Handle: u.Handle, Avatar: u.AvatarURL, Bot: u.IsBot})
			})
		},
	}
}

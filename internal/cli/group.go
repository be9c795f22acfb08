package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/chat"
)

// NewGroupCommand creates the group command and its subcommands.
func NewGroupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Create, join and administer group conversations",
	}

	cmd.AddCommand(newGroupCreateCommand(rootOpts))
	cmd.AddCommand(newGroupSearchCommand(rootOpts))

	cmd.AddCommand(groupAction(rootOpts, groupActionDef{
		use:   "join <group>",
		short: "Join a public group",
		args:  1,
		run: func(ctx context.Context, svc *chat.Service, as string, args []string) (string, error) {
			return "joined " + args[0], svc.Join(ctx, args[0], as)
		},
	}))
	cmd.AddCommand(groupAction(rootOpts, groupActionDef{
		use:   "add <group> <member>...",
		short: "Add members to a group (admins only)",
		args:  -1,
		run: func(ctx context.Context, svc *chat.Service, as string, args []string) (string, error) {
			return fmt.Sprintf("added %d member(s)", len(args)-1), svc.AddMembers(ctx, args[0], as, args[1:])
		},
	}))
	cmd.AddCommand(groupAction(rootOpts, groupActionDef{
		use:   "remove <group> <member>",
		short: "Remove a member from a group (admins only)",
		args:  2,
		run: func(ctx context.Context, svc *chat.Service, as string, args []string) (string, error) {
			return "removed " + args[1], svc.Remove(ctx, args[0], as, args[1])
		},
	}))
	cmd.AddCommand(groupAction(rootOpts, groupActionDef{
		use:   "leave <group>",
		short: "Leave a group",
		long: `Leave a group. When the last admin leaves, the longest-standing
remaining member becomes admin.`,
		args: 1,
		run: func(ctx context.Context, svc *chat.Service, as string, args []string) (string, error) {
			return "left " + args[0], svc.Leave(ctx, args[0], as)
		},
	}))
	cmd.AddCommand(groupAction(rootOpts, groupActionDef{
		use:   "admin <group> <member> <on|off>",
		short: "Grant or revoke admin (admins only)",
		long:  `Grant or revoke admin. The last admin cannot be demoted.`,
		args:  3,
		run: func(ctx context.Context, svc *chat.Service, as string, args []string) (string, error) {
			on, err := parseSwitch(args[2])
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("admin %s for %s", args[2], args[1]), svc.ToggleAdmin(ctx, args[0], as, args[1], on)
		},
	}))
	cmd.AddCommand(groupAction(rootOpts, groupActionDef{
		use:   "permissions <group> <admins|everyone>",
		short: "Choose who can post (admins only)",
		args:  2,
		run: func(ctx context.Context, svc *chat.Service, as string, args []string) (string, error) {
			var onlyAdmins bool
			switch args[1] {
			case "admins":
				onlyAdmins = true
			case "everyone":
			default:
				return "", NewExitError(ExitCommandError, fmt.Sprintf("invalid permission %q: must be admins or everyone", args[1]))
			}
			return args[1] + " can post", svc.UpdatePermissions(ctx, args[0], as, onlyAdmins)
		},
	}))
	cmd.AddCommand(groupAction(rootOpts, groupActionDef{
		use:   "rename <group> <name>",
		short: "Rename a group (admins only)",
		args:  2,
		run: func(ctx context.Context, svc *chat.Service, as string, args []string) (string, error) {
			return "renamed to " + args[1], svc.UpdateName(ctx, args[0], as, args[1])
		},
	}))
	cmd.AddCommand(groupAction(rootOpts, groupActionDef{
		use:   "avatar <group> <url>",
		short: "Change a group's avatar (admins only)",
		args:  2,
		run: func(ctx context.Context, svc *chat.Service, as string, args []string) (string, error) {
			return "avatar updated", svc.UpdateAvatar(ctx, args[0], as, args[1])
		},
	}))
	cmd.AddCommand(groupAction(rootOpts, groupActionDef{
		use:   "delete <group>",
		short: "Delete a group and its messages (admins only)",
		args:  1,
		run: func(ctx context.Context, svc *chat.Service, as string, args []string) (string, error) {
			return "deleted " + args[0], svc.Delete(ctx, args[0], as)
		},
	}))

	return cmd
}

// groupActionDef describes a group command run as the --as user.
type groupActionDef struct {
	use   string
	short string
	long  string
	// args is the exact argument count, or -1 for at least two.
	args int
	run  func(ctx context.Context, svc *chat.Service, as string, args []string) (string, error)
}

func groupAction(rootOpts *RootOptions, def groupActionDef) *cobra.Command {
	var as string

	argCheck := cobra.ExactArgs(def.args)
	if def.args < 0 {
		argCheck = cobra.MinimumNArgs(2)
	}

	cmd := &cobra.Command{
		Use:           def.use,
		Short:         def.short,
		Long:          def.long,
		Args:          argCheck,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			return withApp(rootOpts, cmd.ErrOrStderr(), func(a *app) error {
				msg, err := def.run(cmd.Context(), a.svc, as, args)
				if err != nil {
					var exitErr *ExitError
					if errors.As(err, &exitErr) {
						return err
					}
					return out.Fail("failed to "+cmd.Name(), err)
				}
				return out.Success(okResult{Message: msg})
			})
		},
	}

	cmd.Flags().StringVar(&as, "as", "", "acting user (required)")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

// groupView is the CLI rendering of a group.
type groupView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Avatar       string   `json:"avatar"`
	Private      bool     `json:"private"`
	OnlyAdmins   bool     `json:"only_admins"`
	Participants []string `json:"participants"`
	Admins       []string `json:"admins"`
}

func newGroupView(c *chat.Conversation) groupView {
	return groupView{
		ID:           c.ID,
		Name:         c.GroupName,
		Avatar:       c.GroupAvatar,
		Private:      c.IsPrivateGroup,
		OnlyAdmins:   c.OnlyAdminsCanPost,
		Participants: c.Participants,
		Admins:       c.AdminIDs,
	}
}

func (g groupView) WriteText(w io.Writer) {
	visibility := "public"
	if g.Private {
		visibility = "private"
	}
	fmt.Fprintf(w, "%s  %s (%s, %d members)\n", g.ID, g.Name, visibility, len(g.Participants))
}

type groupList []groupView

func (l groupList) WriteText(w io.Writer) {
	if len(l) == 0 {
		fmt.Fprintln(w, "No groups found.")
		return
	}
	for _, g := range l {
		g.WriteText(w)
	}
}

func newGroupCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		as      string
		name    string
		members []string
		private bool
		avatar  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a group",
		Long: `Create a group with the --as user as its only admin.

Example:
  chatsync group create --as alice --name "Weekend" --members bob,carol
  chatsync group create --as alice --name "Secret" --members bob --private`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			return withApp(rootOpts, cmd.ErrOrStderr(), func(a *app) error {
				conv, err := a.svc.CreateGroup(cmd.Context(), chat.GroupRequest{
					CreatorID: as,
					Name:      name,
					MemberIDs: members,
					Private:   private,
					Avatar:    avatar,
				})
				if err != nil {
					return out.Fail("failed to create group", err)
				}
				return out.Success(newGroupView(conv))
			})
		},
	}

	cmd.Flags().StringVar(&as, "as", "", "creating user (required)")
	cmd.Flags().StringVar(&name, "name", "", "group name (required)")
	cmd.Flags().StringSliceVar(&members, "members", nil, "initial members")
	cmd.Flags().BoolVar(&private, "private", false, "hide the group from search and joins")
	cmd.Flags().StringVar(&avatar, "avatar", "", "avatar URL (default generated from the name)")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newGroupSearchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [term]",
		Short: "Search public groups by name",
		Long: `Search public groups whose name contains term, ignoring case.
Without a term every public group is listed.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			term := ""
			if len(args) == 1 {
				term = args[0]
			}
			return withApp(rootOpts, cmd.ErrOrStderr(), func(a *app) error {
				groups, err := a.svc.SearchPublicGroups(cmd.Context(), term)
				if err != nil {
					return out.Fail("failed to search groups", err)
				}
				list := make(groupList, 0, len(groups))
				for _, g := range groups {
					list = append(list, newGroupView(g))
				}
				return out.Success(list)
			})
		},
	}
	return cmd
}

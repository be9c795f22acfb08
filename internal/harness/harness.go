package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/docstore"
	"github.com/roach88/chatsync/internal/testutil"
)

// Harness executes one scenario.
type Harness struct {
	store    *docstore.Store
	svc      *chat.Service
	logger   *slog.Logger
	bindings map[string]string
	errs     map[int]string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh store in a temporary directory with a
// deterministic clock and sequential ids.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "chatsync-scenario-")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	clock := testutil.NewDeterministicClock(testutil.Epoch, time.Second)

	st, err := docstore.Open(filepath.Join(dir, "scenario.db"),
		docstore.WithLogger(logger),
		docstore.WithClock(docstore.NewClock(clock.Now)),
		docstore.WithIDGenerator(testutil.NewSequentialIDs("msg")))
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store: st,
		svc: chat.NewService(st,
			chat.WithLogger(logger),
			chat.WithIDGenerator(testutil.NewSequentialIDs("group"))),
		logger:   logger,
		bindings: map[string]string{},
		errs:     map[int]string{},
	}

	ctx := context.Background()
	result := NewResult()

	for i, u := range scenario.Users {
		user := chat.User{ID: u.ID, Name: u.Name, Handle: u.Handle, IsBot: u.Bot}
		if user.Name == "" {
			user.Name = u.ID
		}
		if err := h.svc.PutUser(ctx, user); err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
	}

	for i, step := range scenario.Steps {
		result.AddTrace(h.execute(ctx, i, step))
	}

	actx := &AssertionContext{Ctx: ctx, Service: h.svc, Bindings: h.bindings, StepErrors: h.errs}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// resolve maps "$name" to its bound id.
func (h *Harness) resolve(ref string) string {
	if name, ok := strings.CutPrefix(ref, "$"); ok {
		return h.bindings[name]
	}
	return ref
}

func (h *Harness) execute(ctx context.Context, i int, step Step) TraceEvent {
	conv := h.resolve(step.Conversation)
	ev := TraceEvent{
		Step:         i,
		Action:       step.Action,
		Actor:        step.Actor,
		Conversation: conv,
		Outcome:      OutcomeOK,
	}

	bound, result, err := h.invoke(ctx, step, conv)
	if err != nil {
		code := string(chat.CodeOf(err))
		if code == "" {
			code = "INTERNAL"
		}
		ev.Outcome = OutcomeError
		ev.Code = code
		h.errs[i] = code
		h.logger.Info("step failed", "step", i, "action", step.Action, "error", err)
		return ev
	}
	if step.As != "" && bound != "" {
		h.bindings[step.As] = bound
	}
	if ev.Conversation == "" && step.Action != ActionSend {
		ev.Conversation = bound
	}
	ev.Result = result
	return ev
}

// invoke performs the step. It returns the id the step creates, if any,
// and the values recorded in the trace.
func (h *Harness) invoke(ctx context.Context, step Step, conv string) (string, map[string]any, error) {
	a := args(step.Args)
	s := h.svc

	switch step.Action {
	case ActionCreateGroup:
		c, err := s.CreateGroup(ctx, chat.GroupRequest{
			CreatorID: step.Actor,
			Name:      a.str("name"),
			MemberIDs: a.strs("members"),
			Private:   a.boolean("private"),
			Avatar:    a.str("avatar"),
		})
		if err != nil {
			return "", nil, err
		}
		return c.ID, nil, nil

	case ActionStartDirect:
		id, err := s.StartDirect(ctx, step.Actor, a.str("with"))
		return id, nil, err

	case ActionEnsureAssistant:
		id, err := s.EnsureAssistant(ctx, step.Actor)
		return id, nil, err

	case ActionSend:
		req := chat.SendRequest{ConversationID: conv, SenderID: step.Actor, Text: a.str("text")}
		if reply := a.str("reply_to"); reply != "" {
			req.ReplyTo = &chat.ReplyRef{ID: h.resolve(reply)}
		}
		m, err := s.Send(ctx, req)
		if err != nil {
			return "", nil, err
		}
		return m.ID, map[string]any{"message": m.ID}, nil

	case ActionReact:
		return "", nil, s.React(ctx, conv, h.resolve(a.str("message")), a.str("reaction"))

	case ActionMarkRead:
		n, err := s.MarkAsRead(ctx, conv, h.resolve(a.str("message")))
		return "", map[string]any{"marked": n}, err

	case ActionMarkAllRead:
		n, err := s.MarkAllFromOthers(ctx, conv, step.Actor)
		return "", map[string]any{"marked": n}, err

	case ActionJoin:
		return "", nil, s.Join(ctx, conv, step.Actor)

	case ActionAddMembers:
		return "", nil, s.AddMembers(ctx, conv, step.Actor, a.strs("members"))

	case ActionLeave:
		return "", nil, s.Leave(ctx, conv, step.Actor)

	case ActionRemove:
		return "", nil, s.Remove(ctx, conv, step.Actor, a.str("member"))

	case ActionToggleAdmin:
		return "", nil, s.ToggleAdmin(ctx, conv, step.Actor, a.str("member"), a.boolean("admin"))

	case ActionUpdatePermissions:
		return "", nil, s.UpdatePermissions(ctx, conv, step.Actor, a.boolean("only_admins"))

	case ActionRename:
		return "", nil, s.UpdateName(ctx, conv, step.Actor, a.str("name"))

	case ActionSetAvatar:
		return "", nil, s.UpdateAvatar(ctx, conv, step.Actor, a.str("avatar"))

	case ActionDelete:
		return "", nil, s.Delete(ctx, conv, step.Actor)

	case ActionPin:
		return "", nil, s.SetPinned(ctx, conv, step.Actor, a.boolean("on"))

	case ActionMute:
		return "", nil, s.SetMuted(ctx, conv, step.Actor, a.boolean("on"))
	}
	return "", nil, fmt.Errorf("unknown action %q", step.Action)
}

// args reads typed values from YAML-decoded step arguments.
type args map[string]any

func (a args) str(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

func (a args) boolean(key string) bool {
	v, _ := a[key].(bool)
	return v
}

func (a args) strs(key string) []string {
	raw, _ := a[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

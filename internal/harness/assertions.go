package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/chatsync/internal/chat"
)

// AssertionContext provides what assertions read after a run.
type AssertionContext struct {
	Ctx        context.Context
	Service    *chat.Service
	Bindings   map[string]string
	StepErrors map[int]string
}

func (c *AssertionContext) resolve(ref string) string {
	if name, ok := strings.CutPrefix(ref, "$"); ok {
		return c.Bindings[name]
	}
	return ref
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Index    int
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertions[%d] %s: expected %s, got %s", e.Index, e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. Assertions are independent: one failure does not stop the rest.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(i, a, actx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(i int, a Assertion, actx *AssertionContext) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Index: i, Type: a.Type, Expected: expected, Actual: actual}
	}

	if a.Type == AssertError {
		got := actx.StepErrors[*a.Step]
		if got != a.Code {
			return fail(codeString(a.Code), codeString(got))
		}
		return nil
	}

	ctx, svc := actx.Ctx, actx.Service
	convID := actx.resolve(a.Conversation)

	switch a.Type {
	case AssertMessageCount:
		msgs, err := svc.Messages(ctx, convID, 1000)
		if err != nil {
			return fail(fmt.Sprintf("%d messages", *a.Count), err.Error())
		}
		if len(msgs) != *a.Count {
			return fail(fmt.Sprintf("%d messages", *a.Count), fmt.Sprintf("%d messages", len(msgs)))
		}
		return nil

	case AssertReadState:
		n, err := svc.UnreadCount(ctx, convID, a.Viewer)
		if err != nil {
			return fail(fmt.Sprintf("%d unread", *a.Unread), err.Error())
		}
		if n != *a.Unread {
			return fail(fmt.Sprintf("%d unread for %s", *a.Unread, a.Viewer), fmt.Sprintf("%d unread", n))
		}
		return nil
	}

	c, err := svc.Conversation(ctx, convID)
	if err != nil {
		return fail("conversation "+convID, err.Error())
	}

	switch a.Type {
	case AssertLastMessage:
		if c.LastMessage == nil {
			return fail(fmt.Sprint(a.Expect), "no last message")
		}
		if text, ok := a.Expect["text"]; ok && fmt.Sprint(text) != c.LastMessage.Text {
			return fail(fmt.Sprintf("text %q", text), fmt.Sprintf("text %q", c.LastMessage.Text))
		}
		if sender, ok := a.Expect["sender"]; ok && fmt.Sprint(sender) != c.LastMessage.SenderID {
			return fail(fmt.Sprintf("sender %v", sender), "sender "+c.LastMessage.SenderID)
		}
	case AssertParticipants:
		if !sameSet(a.Users, c.Participants) {
			return fail(fmt.Sprint(sorted(a.Users)), fmt.Sprint(sorted(c.Participants)))
		}
	case AssertAdmins:
		if !sameSet(a.Users, c.AdminIDs) {
			return fail(fmt.Sprint(sorted(a.Users)), fmt.Sprint(sorted(c.AdminIDs)))
		}
	}
	return nil
}

func codeString(code string) string {
	if code == "" {
		return "success"
	}
	return code
}

func sorted(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}

func sameSet(a, b []string) bool {
	return slices.Equal(slices.Compact(sorted(a)), slices.Compact(sorted(b)))
}

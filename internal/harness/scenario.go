package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of chat operations plus the assertions
// that must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Users are written to the directory before the first step.
	Users []UserFixture `yaml:"users,omitempty"`

	// Steps are executed in order. A failing step does not stop the run;
	// its error code is recorded in the trace.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and recorded errors.
	Assertions []Assertion `yaml:"assertions"`
}

// UserFixture is a directory entry.
type UserFixture struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Handle string `yaml:"handle,omitempty"`
	Bot    bool   `yaml:"bot,omitempty"`
}

// Step invokes one chat operation.
type Step struct {
	// Action names the operation, one of the Action* constants.
	Action string `yaml:"action"`

	// Actor is the user performing it.
	Actor string `yaml:"actor"`

	// Conversation is a conversation id or a "$binding".
	Conversation string `yaml:"conversation,omitempty"`

	// As binds the id the step creates: a conversation for create_group,
	// start_direct and ensure_assistant, a message for send.
	As string `yaml:"as,omitempty"`

	// Args holds action-specific arguments.
	Args map[string]any `yaml:"args,omitempty"`
}

// Assertion checks state after all steps ran.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Conversation is a conversation id or a "$binding".
	Conversation string `yaml:"conversation,omitempty"`

	// Expect holds text and sender for last_message.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Users is the exact set for participants and admins.
	Users []string `yaml:"users,omitempty"`

	// Viewer and Unread are used by read_state.
	Viewer string `yaml:"viewer,omitempty"`
	Unread *int   `yaml:"unread,omitempty"`

	// Count is used by message_count.
	Count *int `yaml:"count,omitempty"`

	// Step and Code are used by error. An empty code asserts success.
	Step *int   `yaml:"step,omitempty"`
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertLastMessage  = "last_message"
	AssertParticipants = "participants"
	AssertAdmins       = "admins"
	AssertReadState    = "read_state"
	AssertMessageCount = "message_count"
	AssertError        = "error"
)

// Step action constants.
const (
	ActionCreateGroup       = "create_group"
	ActionStartDirect       = "start_direct"
	ActionEnsureAssistant   = "ensure_assistant"
	ActionSend              = "send"
	ActionReact             = "react"
	ActionMarkRead          = "mark_read"
	ActionMarkAllRead       = "mark_all_read"
	ActionJoin              = "join"
	ActionAddMembers        = "add_members"
	ActionLeave             = "leave"
	ActionRemove            = "remove"
	ActionToggleAdmin       = "toggle_admin"
	ActionUpdatePermissions = "update_permissions"
	ActionRename            = "rename"
	ActionSetAvatar         = "set_avatar"
	ActionDelete            = "delete"
	ActionPin               = "pin"
	ActionMute              = "mute"
)

var knownActions = map[string]bool{
	ActionCreateGroup: true, ActionStartDirect: true, ActionEnsureAssistant: true,
	ActionSend: true, ActionReact: true, ActionMarkRead: true, ActionMarkAllRead: true,
	ActionJoin: true, ActionAddMembers: true, ActionLeave: true, ActionRemove: true,
	ActionToggleAdmin: true, ActionUpdatePermissions: true, ActionRename: true,
	ActionSetAvatar: true, ActionDelete: true, ActionPin: true, ActionMute: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, u := range s.Users {
		if u.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
	}

	bound := map[string]bool{}
	for i, step := range s.Steps {
		if !knownActions[step.Action] {
			return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
		}
		if step.Actor == "" {
			return fmt.Errorf("steps[%d]: actor is required", i)
		}
		if err := checkRef(step.Conversation, bound); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.As != "" {
			bound[step.As] = true
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Steps), bound); err != nil {
			return err
		}
	}
	return nil
}

// checkRef rejects "$name" references that no earlier step binds.
func checkRef(ref string, bound map[string]bool) error {
	if name, ok := strings.CutPrefix(ref, "$"); ok && !bound[name] {
		return fmt.Errorf("unbound reference %q", ref)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, steps int, bound map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if err := checkRef(a.Conversation, bound); err != nil {
		return fmt.Errorf("assertions[%d]: %w", index, err)
	}

	needConversation := func() error {
		if a.Conversation == "" {
			return fmt.Errorf("assertions[%d]: conversation is required for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertLastMessage:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for last_message", index)
		}
		return needConversation()
	case AssertParticipants, AssertAdmins:
		return needConversation()
	case AssertReadState:
		if a.Viewer == "" || a.Unread == nil {
			return fmt.Errorf("assertions[%d]: viewer and unread are required for read_state", index)
		}
		return needConversation()
	case AssertMessageCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for message_count", index)
		}
		return needConversation()
	case AssertError:
		if a.Step == nil || *a.Step < 0 || *a.Step >= steps {
			return fmt.Errorf("assertions[%d]: step must index a scenario step", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

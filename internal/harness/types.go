package harness

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Step         int            `json:"step"`
	Action       string         `json:"action"`
	Actor        string         `json:"actor"`
	Conversation string         `json:"conversation,omitempty"`
	Outcome      string         `json:"outcome"` // "ok" or "error"
	Code         string         `json:"code,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
}

// Outcome values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

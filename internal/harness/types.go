package harness

import (
	"errors"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/dispatch"
	"github.com/roach88/tally/internal/event"
)

// Step outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeNotConnected = "not_connected"
	OutcomeReserved     = "reserved"
	OutcomeInvalidEvent = "invalid_event"
	OutcomeInvalidUser  = "invalid_user"
	OutcomeLogWrite     = "log_write"
	OutcomeError        = "error"
)

func validOutcome(s string) bool {
	switch s {
	case OutcomeOK, OutcomeNotConnected, OutcomeReserved, OutcomeInvalidEvent,
		OutcomeInvalidUser, OutcomeLogWrite, OutcomeError:
		return true
	default:
		return false
	}
}

// outcomeOf classifies a dispatcher error.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, dispatch.ErrNotConnected):
		return OutcomeNotConnected
	case errors.Is(err, dispatch.ErrReservedEvent):
		return OutcomeReserved
	case errors.Is(err, dispatch.ErrInvalidEvent):
		return OutcomeInvalidEvent
	case errors.Is(err, dispatch.ErrInvalidUser):
		return OutcomeInvalidUser
	case errors.Is(err, dispatch.ErrLogWrite):
		return OutcomeLogWrite
	default:
		return OutcomeError
	}
}

// TraceEvent records one executed step.
type TraceEvent struct {
	Step     int    `json:"step"` // 1-based index into Scenario.Steps
	Action   string `json:"action"`
	Conn     string `json:"conn,omitempty"`
	User     string `json:"user,omitempty"`
	Event    string `json:"event,omitempty"`
	Outcome  string `json:"outcome"`
	Count    *int64 `json:"count,omitempty"`    // user's count after a successful connect or emit
	Replayed *int   `json:"replayed,omitempty"` // records rebuilt by a restart
	Reached  *int   `json:"reached,omitempty"`  // connections reached by a tick
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every step matched its expected outcome and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per executed step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step mismatches and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Leaderboard is the final snapshot.
	Leaderboard []counter.Entry `json:"leaderboard"`

	// Log is every record in the event log at the end of the run.
	Log []event.Record `json:"log"`

	// Connections is the number of bound connections at the end of the run.
	Connections int `json:"connections"`
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

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

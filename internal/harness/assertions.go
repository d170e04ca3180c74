package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/session"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// AssertionContext is the final state assertions are evaluated against.
type AssertionContext struct {
	Store    *counter.Store
	Sessions *session.Registry
	Log      []event.Record
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertCount:
		return assertCount(actx.Store, a)
	case AssertAbsent:
		return assertAbsent(actx.Store, a)
	case AssertLeaderboard:
		return assertLeaderboard(actx.Store, a)
	case AssertLogCount:
		return assertLogCount(actx.Log, a)
	case AssertConnections:
		return assertConnections(actx.Sessions, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertCount(store *counter.Store, a Assertion) error {
	n, ok := store.Count(a.User)
	if !ok {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%s has count %d", a.User, a.Count),
			Actual:   "user not registered",
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%s has count %d", a.User, a.Count),
			Actual:   fmt.Sprintf("count %d", n),
		}
	}
	return nil
}

func assertAbsent(store *counter.Store, a Assertion) error {
	if n, ok := store.Count(a.User); ok {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("%s not registered", a.User),
			Actual:   fmt.Sprintf("registered with count %d", n),
		}
	}
	return nil
}

// assertLeaderboard compares the full snapshot, order included.
func assertLeaderboard(store *counter.Store, a Assertion) error {
	got := store.Snapshot()
	want := a.Entries
	if len(got) == 0 && len(want) == 0 {
		return nil
	}
	if !reflect.DeepEqual(got, want) {
		return &AssertionError{
			Type:     AssertLeaderboard,
			Expected: formatEntries(want),
			Actual:   formatEntries(got),
		}
	}
	return nil
}

func assertLogCount(log []event.Record, a Assertion) error {
	var n int64
	for _, r := range log {
		if a.Kind == "" || string(r.Type) == a.Kind {
			n++
		}
	}
	if n != a.Count {
		what := "records"
		if a.Kind != "" {
			what = a.Kind + " records"
		}
		return &AssertionError{
			Type:     AssertLogCount,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d %s", n, what),
		}
	}
	return nil
}

func assertConnections(sessions *session.Registry, a Assertion) error {
	if n := int64(sessions.Len()); n != a.Count {
		return &AssertionError{
			Type:     AssertConnections,
			Expected: fmt.Sprintf("%d bound connections", a.Count),
			Actual:   fmt.Sprintf("%d bound connections", n),
		}
	}
	return nil
}

func formatEntries(entries []counter.Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s=%d", e.Name, e.Length)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

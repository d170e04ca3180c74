package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/eventlog"
)

// Scenario defines one reproducible run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the event log backend. Default: file.
	Backend string `yaml:"backend,omitempty"`

	// CountedEvents overrides the counted kinds. Default: [increment].
	CountedEvents []string `yaml:"counted_events,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action against the running system.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Conn names the connection (connect, emit, disconnect).
	Conn string `yaml:"conn,omitempty"`

	// User is the user id to connect as (connect).
	User string `yaml:"user,omitempty"`

	// Event is the client event name (emit).
	Event string `yaml:"event,omitempty"`

	// Data is the client payload (emit).
	Data map[string]any `yaml:"data,omitempty"`

	// Times repeats an emit, or sets the number of appends to fail
	// (fail_appends; -1 fails until the next restart).
	Times int `yaml:"times,omitempty"`

	// Expect is the expected outcome. Default: ok.
	Expect string `yaml:"expect,omitempty"`
}

// Step actions.
const (
	ActionConnect     = "connect"
	ActionEmit        = "emit"
	ActionDisconnect  = "disconnect"
	ActionRestart     = "restart"
	ActionFailAppends = "fail_appends"
	ActionTick        = "tick"
)

// Assertion validates final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "count": User's counter equals Count
	// - "absent": User is not registered
	// - "leaderboard": the snapshot equals Entries
	// - "log_count": records of Kind (all records if empty) number Count
	// - "connections": bound connections number Count
	Type string `yaml:"type"`

	User    string          `yaml:"user,omitempty"`
	Kind    string          `yaml:"kind,omitempty"`
	Count   int64           `yaml:"count,omitempty"`
	Entries []counter.Entry `yaml:"entries,omitempty"`
}

// Assertion type constants.
const (
	AssertCount       = "count"
	AssertAbsent      = "absent"
	AssertLeaderboard = "leaderboard"
	AssertLogCount    = "log_count"
	AssertConnections = "connections"
)

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

func (s *Scenario) backend() eventlog.Backend {
	if s.Backend == "" {
		return eventlog.BackendFile
	}
	return eventlog.Backend(s.Backend)
}

func (s *Scenario) countedKinds() []event.Kind {
	return event.ParseKinds(s.CountedEvents)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.backend() {
	case eventlog.BackendFile, eventlog.BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Action {
	case ActionConnect:
		if st.Conn == "" {
			return fmt.Errorf("steps[%d]: conn is required for connect", index)
		}
	case ActionEmit:
		if st.Conn == "" {
			return fmt.Errorf("steps[%d]: conn is required for emit", index)
		}
		if st.Times < 0 {
			return fmt.Errorf("steps[%d]: times must be non-negative for emit", index)
		}
	case ActionDisconnect:
		if st.Conn == "" {
			return fmt.Errorf("steps[%d]: conn is required for disconnect", index)
		}
	case ActionRestart, ActionTick, ActionFailAppends:
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}

	if st.Expect != "" && !validOutcome(st.Expect) {
		return fmt.Errorf("steps[%d]: unknown expected outcome %q", index, st.Expect)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertCount, AssertAbsent:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: user is required for %s", index, a.Type)
		}
	case AssertLeaderboard:
	case AssertLogCount, AssertConnections:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/dispatch"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/eventlog"
	"github.com/roach88/tally/internal/leaderboard"
	"github.com/roach88/tally/internal/session"
	"github.com/roach88/tally/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a fake clock against a temporary event log.
type Harness struct {
	scenario *Scenario
	path     string
	clock    *testutil.FakeClock
	logger   *slog.Logger

	log      eventlog.Log
	flaky    *testutil.FlakyAppender
	store    *counter.Store
	sessions *session.Registry
	disp     *dispatch.Dispatcher
	board    *leaderboard.Broadcaster
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh log in a temporary directory that is
// removed afterwards. The clock starts at testutil.Epoch and advances one
// second per record.
//
// An error is returned only when the run itself cannot proceed (the log
// cannot be opened or replayed). Step mismatches and failed assertions are
// reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "tally-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	name := "events.jsonl"
	if scenario.backend() == eventlog.BackendSQLite {
		name = "events.db"
	}

	h := &Harness{
		scenario: scenario,
		path:     filepath.Join(dir, name),
		clock:    testutil.NewFakeClockAt(testutil.Epoch, time.Second),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()
	if _, err := h.open(ctx); err != nil {
		return nil, err
	}
	defer func() { h.log.Close() }()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
	}

	result.Leaderboard = h.store.Snapshot()
	result.Connections = h.sessions.Len()
	result.Log, err = h.records(ctx)
	if err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Store:    h.store,
		Sessions: h.sessions,
		Log:      result.Log,
	}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// open opens the log and rebuilds a new store and registry from it.
func (h *Harness) open(ctx context.Context) (counter.RebuildStats, error) {
	l, err := eventlog.Open(h.scenario.backend(), h.path,
		eventlog.WithSync(false),
		eventlog.WithLogger(h.logger),
	)
	if err != nil {
		return counter.RebuildStats{}, fmt.Errorf("failed to open event log: %w", err)
	}

	store := counter.New(h.scenario.countedKinds()...)
	stats, err := counter.Rebuild(ctx, l, store)
	if err != nil {
		l.Close()
		return stats, fmt.Errorf("failed to rebuild store: %w", err)
	}

	h.log = l
	h.flaky = testutil.NewFlakyAppender(l)
	h.store = store
	h.sessions = session.NewRegistry()
	h.disp = dispatch.New(h.flaky, store, h.sessions,
		dispatch.WithClock(h.clock),
		dispatch.WithLogger(h.logger),
		dispatch.WithRetries(0, 0),
	)
	h.board = leaderboard.NewBroadcaster(store, sessionEmitter{h.sessions}, time.Hour, h.logger)
	return stats, nil
}

func (h *Harness) execute(ctx context.Context, n int, step Step, result *Result) error {
	switch step.Action {
	case ActionConnect:
		count, err := h.disp.Connect(ctx, step.Conn, step.User)
		ev := TraceEvent{Step: n, Action: step.Action, Conn: step.Conn, User: step.User, Outcome: outcomeOf(err)}
		if err == nil {
			ev.Count = &count
		}
		h.record(step, ev, result)

	case ActionEmit:
		times := step.Times
		if times == 0 {
			times = 1
		}
		for i := 0; i < times; i++ {
			res, err := h.disp.Handle(ctx, step.Conn, step.Event, step.Data)
			ev := TraceEvent{Step: n, Action: step.Action, Conn: step.Conn, User: res.User, Event: step.Event, Outcome: outcomeOf(err)}
			if err == nil {
				count := res.Count
				ev.Count = &count
			}
			h.record(step, ev, result)
		}

	case ActionDisconnect:
		err := h.disp.Disconnect(ctx, step.Conn)
		h.record(step, TraceEvent{Step: n, Action: step.Action, Conn: step.Conn, Outcome: outcomeOf(err)}, result)

	case ActionRestart:
		if err := h.log.Close(); err != nil {
			return fmt.Errorf("close event log: %w", err)
		}
		stats, err := h.open(ctx)
		if err != nil {
			return err
		}
		replayed := stats.Records
		h.record(step, TraceEvent{Step: n, Action: step.Action, Outcome: OutcomeOK, Replayed: &replayed}, result)

	case ActionFailAppends:
		h.flaky.Fail(step.Times)
		h.record(step, TraceEvent{Step: n, Action: step.Action, Outcome: OutcomeOK}, result)

	case ActionTick:
		reached := h.board.Tick()
		h.record(step, TraceEvent{Step: n, Action: step.Action, Outcome: OutcomeOK, Reached: &reached}, result)

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return nil
}

// record appends ev to the trace and checks it against the expected outcome.
func (h *Harness) record(step Step, ev TraceEvent, result *Result) {
	result.AddTrace(ev)

	want := step.Expect
	if want == "" {
		want = OutcomeOK
	}
	if ev.Outcome != want {
		result.AddError(fmt.Sprintf("step %d (%s): expected outcome %s, got %s", ev.Step, ev.Action, want, ev.Outcome))
	}
}

func (h *Harness) records(ctx context.Context) ([]event.Record, error) {
	out := []event.Record{}
	err := h.log.Replay(ctx, func(r event.Record) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return out, nil
}

// sessionEmitter counts bound connections as broadcast recipients.
type sessionEmitter struct {
	sessions *session.Registry
}

func (e sessionEmitter) Broadcast(string, any) int { return e.sessions.Len() }

func (e sessionEmitter) Send(conn, _ string, _ any) error {
	_, err := e.sessions.Resolve(conn)
	return err
}

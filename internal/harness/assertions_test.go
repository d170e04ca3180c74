package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/session"
	"github.com/roach88/tally/internal/testutil"
)

// newAssertionContext builds a store with alice=2 and bob=0, and one bound
// connection for alice.
func newAssertionContext(t *testing.T) *AssertionContext {
	t.Helper()
	clock := testutil.NewFakeClock()
	store := counter.New()
	log := []event.Record{
		event.New(event.KindRegister, "alice", clock.Now(), nil),
		event.New(event.KindIncrement, "alice", clock.Now(), nil),
		event.New(event.KindIncrement, "alice", clock.Now(), nil),
		event.New(event.KindRegister, "bob", clock.Now(), nil),
	}
	for _, r := range log {
		require.NoError(t, store.Apply(r))
	}
	sessions := session.NewRegistry()
	sessions.Bind("c1", "alice")
	return &AssertionContext{Store: store, Sessions: sessions, Log: log}
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	actx := newAssertionContext(t)
	errs := EvaluateAssertions([]Assertion{
		{Type: AssertCount, User: "alice", Count: 2},
		{Type: AssertCount, User: "bob", Count: 0},
		{Type: AssertAbsent, User: "carol"},
		{Type: AssertLeaderboard, Entries: []counter.Entry{{Name: "bob", Length: 0}, {Name: "alice", Length: 2}}},
		{Type: AssertLogCount, Count: 4},
		{Type: AssertLogCount, Kind: "increment", Count: 2},
		{Type: AssertConnections, Count: 1},
	}, actx)
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_SomeFail(t *testing.T) {
	actx := newAssertionContext(t)
	errs := EvaluateAssertions([]Assertion{
		{Type: AssertCount, User: "alice", Count: 2},
		{Type: AssertCount, User: "alice", Count: 3},
		{Type: AssertConnections, Count: 1},
		{Type: AssertAbsent, User: "bob"},
	}, actx)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertions[1]")
	assert.Contains(t, errs[1], "assertions[3]")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions([]Assertion{{Type: "vibes"}}, newAssertionContext(t))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "vibes"`)
}

func TestAssertCount_Unregistered(t *testing.T) {
	err := assertCount(newAssertionContext(t).Store, Assertion{Type: AssertCount, User: "carol", Count: 0})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "user not registered", ae.Actual)
}

func TestAssertLeaderboard_OrderMatters(t *testing.T) {
	err := assertLeaderboard(newAssertionContext(t).Store, Assertion{
		Type:    AssertLeaderboard,
		Entries: []counter.Entry{{Name: "alice", Length: 2}, {Name: "bob", Length: 0}},
	})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "[alice=2 bob=0]", ae.Expected)
	assert.Equal(t, "[bob=0 alice=2]", ae.Actual)
}

func TestAssertLeaderboard_EmptyStore(t *testing.T) {
	err := assertLeaderboard(counter.New(), Assertion{Type: AssertLeaderboard})
	assert.NoError(t, err)
}

func TestAssertLogCount_Mismatch(t *testing.T) {
	err := assertLogCount(newAssertionContext(t).Log, Assertion{Type: AssertLogCount, Kind: "register", Count: 1})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "1 register records", ae.Expected)
	assert.Equal(t, "2 register records", ae.Actual)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertCount,
		Expected: "alice has count 3",
		Actual:   "count 2",
	}
	assert.Equal(t, "Assertion failed: count\n  Expected: alice has count 3\n  Actual: count 2", err.Error())
}

package leaderboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/event"
)

type sent struct {
	conn  string
	event string
	data  any
}

type fakeEmitter struct {
	mu     sync.Mutex
	conns  []string
	frames []sent
}

func (f *fakeEmitter) Broadcast(name string, data any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		f.frames = append(f.frames, sent{conn: c, event: name, data: data})
	}
	return len(f.conns)
}

func (f *fakeEmitter) Send(conn, name string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		if c == conn {
			f.frames = append(f.frames, sent{conn: conn, event: name, data: data})
			return nil
		}
	}
	return errors.New("unknown connection")
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func newStore(t *testing.T) *counter.Store {
	t.Helper()
	s := counter.New()
	for _, r := range []event.Record{
		{Type: event.KindRegister, User: "alice", TS: 1},
		{Type: event.KindRegister, User: "bob", TS: 2},
		{Type: event.KindIncrement, User: "alice", TS: 3},
	} {
		require.NoError(t, s.Apply(r))
	}
	return s
}

func TestBroadcaster_Tick(t *testing.T) {
	out := &fakeEmitter{conns: []string{"c1", "c2"}}
	b := NewBroadcaster(newStore(t), out, time.Hour, nil)

	assert.Equal(t, 2, b.Tick())
	require.Len(t, out.frames, 2)
	assert.Equal(t, EventName, out.frames[0].event)
	assert.Equal(t, []counter.Entry{{Name: "bob", Length: 0}, {Name: "alice", Length: 1}}, out.frames[0].data)
}

func TestBroadcaster_PushTo(t *testing.T) {
	out := &fakeEmitter{conns: []string{"c1", "c2"}}
	b := NewBroadcaster(newStore(t), out, 0, nil)
	assert.Equal(t, DefaultInterval, b.Interval())

	require.NoError(t, b.PushTo("c2"))
	require.Len(t, out.frames, 1)
	assert.Equal(t, "c2", out.frames[0].conn)

	assert.Error(t, b.PushTo("gone"))
}

func TestBroadcaster_RunTicksUntilCancelled(t *testing.T) {
	out := &fakeEmitter{conns: []string{"c1"}}
	b := NewBroadcaster(newStore(t), out, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return out.count() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	stopped := out.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, out.count(), "no broadcasts after Run returns")
}

func TestBroadcaster_NoConnections(t *testing.T) {
	out := &fakeEmitter{}
	b := NewBroadcaster(counter.New(), out, time.Hour, nil)
	assert.Zero(t, b.Tick())
}

package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/eventlog"
	"github.com/roach88/tally/internal/testutil"
)

// history builds records for alice (2 increments) and bob (1 increment).
func history() []event.Record {
	clock := testutil.NewFakeClock()
	connect := func(user, conn string) event.Record {
		r := event.New(event.KindConnect, user, clock.Now(), nil)
		r.SessionID = conn
		return r
	}
	return []event.Record{
		event.New(event.KindRegister, "alice", clock.Now(), nil),
		connect("alice", "c1"),
		event.New(event.KindIncrement, "alice", clock.Now(), nil),
		event.New(event.KindRegister, "bob", clock.Now(), nil),
		connect("bob", "c2"),
		event.New(event.KindIncrement, "alice", clock.Now(), nil),
		event.New(event.KindIncrement, "bob", clock.Now(), map[string]any{"source": "button"}),
		event.New("click", "bob", clock.Now(), nil),
	}
}

func writeLog(t *testing.T, backend eventlog.Backend, path string, recs []event.Record) {
	t.Helper()
	l, err := eventlog.Open(backend, path,
		eventlog.WithSync(false),
		eventlog.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, l.Append(context.Background(), r))
	}
	require.NoError(t, l.Close())
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

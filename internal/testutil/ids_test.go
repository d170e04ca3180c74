package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/event"
)

func TestSequentialIDs(t *testing.T) {
	gen := NewSequentialIDs("")
	assert.Equal(t, "conn-1", gen.Generate())
	assert.Equal(t, "conn-2", gen.Generate())

	gen = NewSequentialIDs("ws")
	assert.Equal(t, "ws-1", gen.Generate())
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	gen := NewSequentialIDs("c")
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000)
}

type recordingAppender struct {
	records []event.Record
}

func (r *recordingAppender) Append(_ context.Context, rec event.Record) error {
	r.records = append(r.records, rec)
	return nil
}

func TestFlakyAppender(t *testing.T) {
	inner := &recordingAppender{}
	a := NewFlakyAppender(inner)
	ctx := context.Background()
	rec := event.Record{Type: event.KindIncrement, User: "alice", TS: 1}

	require.NoError(t, a.Append(ctx, rec))

	a.Fail(2)
	assert.ErrorIs(t, a.Append(ctx, rec), ErrInjected)
	assert.ErrorIs(t, a.Append(ctx, rec), ErrInjected)
	require.NoError(t, a.Append(ctx, rec))

	a.Fail(-1)
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, a.Append(ctx, rec), ErrInjected)
	}
	a.Fail(0)
	require.NoError(t, a.Append(ctx, rec))

	assert.Len(t, inner.records, 3)
	assert.Equal(t, 10, a.Calls())
}

package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/tally/internal/event"
)

// ErrInjected is the cause returned by FlakyAppender for injected failures.
var ErrInjected = errors.New("injected append failure")

// Appender matches the write side of an event log.
type Appender interface {
	Append(ctx context.Context, rec event.Record) error
}

// FlakyAppender wraps an Appender and fails a configured number of calls
// before they reach the underlying log.
type FlakyAppender struct {
	mu    sync.Mutex
	next  Appender
	fails int
	calls int
}

// NewFlakyAppender wraps next. It passes every call through until Fail is used.
func NewFlakyAppender(next Appender) *FlakyAppender {
	return &FlakyAppender{next: next}
}

// Fail makes the next n calls return ErrInjected. A negative n fails every
// call until Fail(0).
func (a *FlakyAppender) Fail(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fails = n
}

// Calls returns the number of Append calls seen, failed or not.
func (a *FlakyAppender) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Append fails while failures remain, otherwise delegates.
func (a *FlakyAppender) Append(ctx context.Context, rec event.Record) error {
	a.mu.Lock()
	a.calls++
	switch {
	case a.fails < 0:
		a.mu.Unlock()
		return ErrInjected
	case a.fails > 0:
		a.fails--
		a.mu.Unlock()
		return ErrInjected
	}
	a.mu.Unlock()
	return a.next.Append(ctx, rec)
}

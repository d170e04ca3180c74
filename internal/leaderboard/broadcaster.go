// Package leaderboard pushes counter snapshots to connected clients.
package leaderboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/tally/internal/counter"
)

// EventName is the outbound event carrying a snapshot.
const EventName = "leaderboard"

// DefaultInterval is the time between periodic broadcasts.
const DefaultInterval = 10 * time.Second

// Snapshotter provides the current leaderboard. counter.Store satisfies it.
type Snapshotter interface {
	Snapshot() []counter.Entry
}

// Emitter delivers events to connections.
type Emitter interface {
	// Broadcast sends to every open connection and returns how many were
	// reached.
	Broadcast(event string, data any) int
	// Send delivers to one connection.
	Send(conn, event string, data any) error
}

// Broadcaster periodically sends the leaderboard to every connection.
type Broadcaster struct {
	source   Snapshotter
	out      Emitter
	interval time.Duration
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster. A non-positive interval uses
// DefaultInterval; a nil logger uses slog.Default().
func NewBroadcaster(source Snapshotter, out Emitter, interval time.Duration, logger *slog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{source: source, out: out, interval: interval, logger: logger}
}

// Interval returns the broadcast period.
func (b *Broadcaster) Interval() time.Duration { return b.interval }

// Run broadcasts once per interval until ctx is cancelled.
// It always returns ctx.Err().
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Debug("leaderboard broadcaster started", "interval", b.interval)
	for {
		select {
		case <-ctx.Done():
			b.logger.Debug("leaderboard broadcaster stopped")
			return ctx.Err()
		case <-ticker.C:
			b.Tick()
		}
	}
}

// Tick broadcasts the current snapshot once and returns the number of
// connections reached.
func (b *Broadcaster) Tick() int {
	snap := b.source.Snapshot()
	n := b.out.Broadcast(EventName, snap)
	b.logger.Debug("leaderboard broadcast", "entries", len(snap), "connections", n)
	return n
}

// PushTo sends the current snapshot to one connection immediately.
func (b *Broadcaster) PushTo(conn string) error {
	return b.out.Send(conn, EventName, b.source.Snapshot())
}

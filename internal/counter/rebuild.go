package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tally/internal/event"
)

// Replayer yields log records in append order. eventlog.Log satisfies it.
type Replayer interface {
	Replay(ctx context.Context, fn func(event.Record) error) error
}

// RebuildStats summarizes one replay.
type RebuildStats struct {
	Records int                `json:"records"`
	Users   int                `json:"users"`
	Counted int                `json:"counted"`
	Skipped int                `json:"skipped"` // counted records for unregistered users
	ByKind  map[event.Kind]int `json:"by_kind"`
}

// Rebuild applies every record from src to store in order.
//
// The store is normally empty. Replay errors, including log corruption, are
// returned unchanged so callers can match them with errors.Is.
func Rebuild(ctx context.Context, src Replayer, store *Store) (RebuildStats, error) {
	stats := RebuildStats{ByKind: make(map[event.Kind]int)}

	err := src.Replay(ctx, func(rec event.Record) error {
		stats.Records++
		stats.ByKind[rec.Type]++

		err := store.Apply(rec)
		switch {
		case errors.Is(err, ErrUnregistered):
			stats.Skipped++
		case err != nil:
			return fmt.Errorf("apply record %d: %w", stats.Records, err)
		case store.Counts(rec.Type):
			stats.Counted++
		}
		return nil
	})
	stats.Users = store.Len()
	if err != nil {
		return stats, err
	}
	return stats, nil
}

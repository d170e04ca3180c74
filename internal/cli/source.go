package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/eventlog"
)

// LogOptions are the flags shared by the offline commands.
type LogOptions struct {
	Path    string
	Backend string
	Counted []string
}

func (o *LogOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Path, "log", "", "path to the event log (required)")
	_ = cmd.MarkFlagRequired("log")
	cmd.Flags().StringVar(&o.Backend, "backend", string(eventlog.BackendFile), "event log backend (file|sqlite)")
	cmd.Flags().StringSliceVar(&o.Counted, "counted", []string{string(event.KindIncrement)}, "event kinds that increment a counter")
}

// replayFunc adapts a function to counter.Replayer.
type replayFunc func(ctx context.Context, fn func(event.Record) error) error

func (f replayFunc) Replay(ctx context.Context, fn func(event.Record) error) error {
	return f(ctx, fn)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openSource opens an existing log for reading only. The file backend is
// read without repairing a torn tail, so offline commands never modify it.
func openSource(o *LogOptions, logger *slog.Logger) (counter.Replayer, io.Closer, error) {
	if _, err := os.Stat(o.Path); errors.Is(err, os.ErrNotExist) {
		return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("event log not found: %s", o.Path))
	}

	switch eventlog.Backend(o.Backend) {
	case eventlog.BackendFile, "":
		src := replayFunc(func(ctx context.Context, fn func(event.Record) error) error {
			return eventlog.ReadFile(ctx, o.Path, fn, eventlog.WithLogger(logger))
		})
		return src, closerFunc(func() error { return nil }), nil
	case eventlog.BackendSQLite:
		l, err := eventlog.OpenSQLite(o.Path, eventlog.WithSync(false), eventlog.WithLogger(logger))
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to open event log", err)
		}
		return l, l, nil
	default:
		return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown event log backend %q", o.Backend))
	}
}

// rebuild replays src into a fresh store counting the given kinds.
func rebuild(ctx context.Context, src counter.Replayer, counted []string) (*counter.Store, counter.RebuildStats, error) {
	store := counter.New(event.ParseKinds(counted)...)
	stats, err := counter.Rebuild(ctx, src, store)
	if err != nil {
		return nil, stats, rebuildError(err)
	}
	return store, stats, nil
}

func rebuildError(err error) *ExitError {
	if errors.Is(err, eventlog.ErrLogCorruption) {
		return WrapExitError(ExitCommandError, "event log is corrupt", err)
	}
	return WrapExitError(ExitCommandError, "failed to replay event log", err)
}

// errorCode picks the JSON error code for a command error.
func errorCode(err error) string {
	if errors.Is(err, eventlog.ErrLogCorruption) {
		return CodeCorrupt
	}
	return CodeLog
}

// commandLogger writes warnings, or everything when verbose, to w.
func commandLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

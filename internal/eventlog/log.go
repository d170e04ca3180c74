package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tally/internal/event"
)

// Log is an append-only sequence of event records.
//
// Replay holds the log's write lock for its duration; fn must not call Append.
type Log interface {
	Append(ctx context.Context, rec event.Record) error
	Replay(ctx context.Context, fn func(event.Record) error) error
	Close() error
}

// Backend selects a Log implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

var (
	// ErrLogWrite marks a record that was not durably appended.
	ErrLogWrite = errors.New("event log write failed")

	// ErrLogCorruption marks a record that could not be decoded on replay.
	ErrLogCorruption = errors.New("event log corrupted")

	// ErrLogFailed marks a log whose tail could not be rolled back after a
	// failed append. It accepts no further appends until reopened.
	ErrLogFailed = errors.New("event log failed")

	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("event log closed")
)

// WriteError describes a failed append. The record is not in the log.
type WriteError struct {
	Op  string // "encode", "open", "write", "sync", "insert"
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrLogWrite, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is matches ErrLogWrite.
func (e *WriteError) Is(target error) bool { return target == ErrLogWrite }

// CorruptionError describes an undecodable record found during replay.
type CorruptionError struct {
	Path   string
	Line   int64 // 1-based line number, or row seq for SQLite
	Offset int64 // byte offset of the line start; -1 when not applicable
	Err    error
}

func (e *CorruptionError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%v: %s:%d (offset %d): %v", ErrLogCorruption, e.Path, e.Line, e.Offset, e.Err)
	}
	return fmt.Sprintf("%v: %s: seq %d: %v", ErrLogCorruption, e.Path, e.Line, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Is matches ErrLogCorruption.
func (e *CorruptionError) Is(target error) bool { return target == ErrLogCorruption }

type options struct {
	sync   bool
	logger *slog.Logger
}

// Option configures a log backend.
type Option func(*options)

// WithSync controls fsync after every append. Default: true.
func WithSync(sync bool) Option {
	return func(o *options) { o.sync = sync }
}

// WithLogger sets the logger used for recovery warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{sync: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open opens the log at path with the given backend.
// An empty backend means BackendFile.
func Open(backend Backend, path string, opts ...Option) (Log, error) {
	switch backend {
	case BackendFile, "":
		l, err := OpenFile(path, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	case BackendSQLite:
		l, err := OpenSQLite(path, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown event log backend %q", backend)
	}
}

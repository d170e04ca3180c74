package dispatch

import (
	"errors"
	"fmt"

	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/eventlog"
	"github.com/roach88/tally/internal/session"
)

var (
	// ErrNotConnected is returned for events on a connection with no user.
	ErrNotConnected = session.ErrNotConnected

	// ErrLogWrite is matched by every LogWriteError.
	ErrLogWrite = eventlog.ErrLogWrite

	// ErrReservedEvent is returned when a client names a lifecycle kind.
	ErrReservedEvent = errors.New("event name is reserved")

	// ErrInvalidEvent is returned for an empty event name.
	ErrInvalidEvent = errors.New("event name is empty")

	// ErrInvalidUser is returned when connecting with an empty or non-UTF-8
	// user id.
	ErrInvalidUser = errors.New("user id is empty or not valid UTF-8")
)

// LogWriteError reports a record that could not be appended after retries.
// The store was not changed.
type LogWriteError struct {
	Kind     event.Kind
	User     string
	Attempts int
	Err      error
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("append %s for %q failed after %d attempt(s): %v", e.Kind, e.User, e.Attempts, e.Err)
}

func (e *LogWriteError) Unwrap() error { return e.Err }

// Is matches ErrLogWrite even when the cause is not a *eventlog.WriteError.
func (e *LogWriteError) Is(target error) bool { return target == ErrLogWrite }

// IsLogWriteError reports whether err is or wraps a LogWriteError.
func IsLogWriteError(err error) bool {
	var lwe *LogWriteError
	return errors.As(err, &lwe)
}

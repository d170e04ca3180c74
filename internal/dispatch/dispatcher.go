package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/eventlog"
	"github.com/roach88/tally/internal/session"
)

// Appender is the write side of the event log.
type Appender interface {
	Append(ctx context.Context, rec event.Record) error
}

// Result describes the outcome of one handled event.
type Result struct {
	User    string
	Kind    event.Kind
	Count   int64
	Counted bool // the event changed the user's counter
}

// Dispatcher validates inbound events and commits them to log and store.
type Dispatcher struct {
	log      Appender
	store    *counter.Store
	sessions *session.Registry
	locks    *stripedLocks

	clock      Clock
	logger     *slog.Logger
	retries    int
	retryDelay time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock used to stamp records.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithRetries sets how many times a failed append is retried and the pause
// between attempts. Default: 3 retries, 100ms apart.
func WithRetries(n int, delay time.Duration) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.retries = n
		}
		if delay >= 0 {
			d.retryDelay = delay
		}
	}
}

// WithStripes sets the number of per-user lock stripes. Default: 256.
func WithStripes(n int) Option {
	return func(d *Dispatcher) {
		d.locks = newStripedLocks(n)
	}
}

// New creates a Dispatcher over the given log, store and registry.
func New(log Appender, store *counter.Store, sessions *session.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:        log,
		store:      store,
		sessions:   sessions,
		locks:      newStripedLocks(defaultStripes),
		clock:      SystemClock{},
		logger:     slog.Default(),
		retries:    3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect registers user if needed, records the connection and binds conn
// to user. It returns the user's current count. user must be non-empty
// valid UTF-8, since the log cannot represent other byte strings.
//
// If any record cannot be appended the connection is not bound.
func (d *Dispatcher) Connect(ctx context.Context, conn, user string) (int64, error) {
	if user == "" || !utf8.ValidString(user) {
		return 0, ErrInvalidUser
	}

	unlock := d.locks.lock(user)
	defer unlock()

	if !d.store.Has(user) {
		if err := d.commit(ctx, event.New(event.KindRegister, user, d.clock.Now(), nil)); err != nil {
			return 0, err
		}
		d.logger.Info("user registered", "user", user)
	}

	rec := event.New(event.KindConnect, user, d.clock.Now(), nil)
	rec.SessionID = conn
	if err := d.commit(ctx, rec); err != nil {
		return 0, err
	}

	d.sessions.Bind(conn, user)
	count, _ := d.store.Count(user)
	d.logger.Debug("connection bound", "conn", conn, "user", user, "count", count)
	return count, nil
}

// Handle records a client-named event for the user bound to conn.
//
// Reserved keys in payload are dropped. Lifecycle names are rejected with
// ErrReservedEvent. On a failed append the store is unchanged and the error
// is a *LogWriteError.
func (d *Dispatcher) Handle(ctx context.Context, conn, name string, payload map[string]any) (Result, error) {
	user, err := d.sessions.Resolve(conn)
	if err != nil {
		d.logger.Debug("event from unbound connection dropped", "conn", conn, "event", name)
		return Result{}, err
	}

	kind := event.Kind(name)
	switch {
	case name == "":
		return Result{User: user}, ErrInvalidEvent
	case kind.IsLifecycle():
		d.logger.Warn("client sent reserved event", "conn", conn, "user", user, "event", name)
		return Result{User: user, Kind: kind}, ErrReservedEvent
	}

	unlock := d.locks.lock(user)
	defer unlock()

	if err := d.commit(ctx, event.New(kind, user, d.clock.Now(), payload)); err != nil {
		count, _ := d.store.Count(user)
		return Result{User: user, Kind: kind, Count: count}, err
	}

	count, _ := d.store.Count(user)
	return Result{
		User:    user,
		Kind:    kind,
		Count:   count,
		Counted: d.store.Counts(kind),
	}, nil
}

// Disconnect records the end of conn's session and unbinds it.
//
// An unbound conn returns ErrNotConnected and changes nothing. A failed
// append still unbinds the connection; the error is returned afterwards.
func (d *Dispatcher) Disconnect(ctx context.Context, conn string) error {
	user, err := d.sessions.Resolve(conn)
	if err != nil {
		return err
	}

	unlock := d.locks.lock(user)
	defer unlock()

	rec := event.New(event.KindDisconnect, user, d.clock.Now(), nil)
	rec.SessionID = conn
	err = d.commit(ctx, rec)

	d.sessions.Unbind(conn)
	d.logger.Debug("connection unbound", "conn", conn, "user", user)
	return err
}

// commit appends rec and then applies it. The caller holds the user's lock.
func (d *Dispatcher) commit(ctx context.Context, rec event.Record) error {
	if err := d.append(ctx, rec); err != nil {
		return err
	}
	if err := d.store.Apply(rec); err != nil {
		// Only ErrUnregistered is possible; the record is already durable.
		d.logger.Warn("applied record had no effect", "user", rec.User, "event", rec.Type, "error", err)
	}
	return nil
}

func (d *Dispatcher) append(ctx context.Context, rec event.Record) error {
	var err error
	attempts := 0
	for attempts <= d.retries {
		attempts++
		err = d.log.Append(ctx, rec)
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) || attempts > d.retries {
			break
		}

		d.logger.Warn("append failed, retrying", "user", rec.User, "event", rec.Type, "attempt", attempts, "error", err)
		if d.retryDelay > 0 {
			timer := time.NewTimer(d.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				err = ctx.Err()
				return d.writeFailed(rec, attempts, err)
			case <-timer.C:
			}
		}
	}
	return d.writeFailed(rec, attempts, err)
}

func (d *Dispatcher) writeFailed(rec event.Record, attempts int, err error) error {
	d.logger.Error("append failed", "user", rec.User, "event", rec.Type, "attempts", attempts, "error", err)
	return &LogWriteError{Kind: rec.Type, User: rec.User, Attempts: attempts, Err: err}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, eventlog.ErrClosed) &&
		!errors.Is(err, eventlog.ErrLogFailed) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

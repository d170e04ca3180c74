package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/tally/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - events table with user index
const currentSchemaVersion = 1

// SQLiteLog stores records as rows of an append-only events table.
// Uses SQLite with WAL mode; replay order is the autoincrement seq.
type SQLiteLog struct {
	mu     sync.Mutex
	path   string
	db     *sql.DB
	closed bool
	logger *slog.Logger
}

// OpenSQLite creates or opens the database at path and applies the schema.
//
// The database is configured with:
//   - WAL journal mode
//   - synchronous=FULL when syncing (the default), NORMAL otherwise
//   - 5-second busy timeout
//
// Safe to call on an existing database.
func OpenSQLite(path string, opts ...Option) (*SQLiteLog, error) {
	o := buildOptions(opts)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open event database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect event database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, o.sync); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteLog{path: path, db: db, logger: o.logger}, nil
}

// Append inserts rec as the next row. The insert is a single statement, so
// the row is either fully present or absent.
func (l *SQLiteLog) Append(ctx context.Context, rec event.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &WriteError{Op: "encode", Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	var sessionID sql.NullString
	if rec.SessionID != "" {
		sessionID = sql.NullString{String: rec.SessionID, Valid: true}
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO events (type, user_id, ts, session_id, record)
		VALUES (?, ?, ?, ?, ?)
	`,
		string(rec.Type),
		rec.User,
		rec.TS,
		sessionID,
		string(data),
	)
	if err != nil {
		return &WriteError{Op: "insert", Err: err}
	}
	return nil
}

// Replay calls fn for every row ordered by seq.
func (l *SQLiteLog) Replay(ctx context.Context, fn func(event.Record) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, record FROM events
		ORDER BY seq ASC
	`)
	if err != nil {
		return fmt.Errorf("replay event database: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int64
			data string
		)
		if err := rows.Scan(&seq, &data); err != nil {
			return fmt.Errorf("replay event database: scan: %w", err)
		}
		var rec event.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return &CorruptionError{Path: l.path, Line: seq, Offset: -1, Err: err}
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("replay event database: %w", err)
	}
	return nil
}

// Close closes the database. Closing twice is a no-op.
func (l *SQLiteLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

func applyPragmas(db *sql.DB, fullSync bool) error {
	synchronous := "NORMAL"
	if fullSync {
		synchronous = "FULL"
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = " + synchronous,
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and records the version.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("event database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// Package eventlog provides the durable, append-only event log.
//
// The log is the single source of truth for counter state. Two backends
// implement Log:
//
//   - FileLog: one JSON object per line in a plain text file (default)
//   - SQLiteLog: one row per record in an events table
//
// # Durability
//
// Append writes one complete record or nothing. A failed or short write is
// rolled back by truncating the file to its previous size, and the file is
// fsync'd after every append unless WithSync(false) is given.
//
// A crash in the middle of a write can still leave a final line without its
// newline terminator. Such a torn tail is skipped by replay and truncated by
// OpenFile before the next append.
//
// # Corruption
//
// A complete line that does not decode as a record is fatal: Replay returns a
// *CorruptionError and stops. Serving from a state that silently skipped
// history would diverge from the log.
//
// # Missing logs
//
// A log file that does not exist replays as empty. FileLog creates the file on
// the first append, so its presence alone marks a store with history.
package eventlog

// Package event defines the event record, the atomic unit of durable state.
//
// Every change to a user's counter is described by exactly one Record in the
// event log. Records are immutable once written; the counter store is derived
// from them by replay.
//
// # Wire format
//
// A record serializes to a single flat JSON object:
//
//	{"type":"increment","user":"alice","ts":1700000000.25,"combo":3}
//
// The keys type, user, ts and session_id are reserved. Any other key is an
// extra field copied verbatim from the client payload.
//
// This package imports nothing internal.
package event

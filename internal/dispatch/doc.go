// Package dispatch turns inbound connection events into durable records.
//
// The Dispatcher is the only writer to the event log and the counter store.
// Each event is resolved to the acting user, stamped with the server clock,
// appended to the log and only then applied to the store. The append and the
// apply happen under a per-user lock, so for any single user the store always
// reflects a prefix of the log in log order.
//
// Records for different users may interleave in the log in any order; the
// store does not depend on cross-user ordering.
package dispatch

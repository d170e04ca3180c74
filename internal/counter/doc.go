// Package counter holds the in-memory per-user counters derived from the
// event log.
//
// A Store is a cache: every value it holds can be reconstructed by replaying
// the log from an empty store with Rebuild. Records are applied in log order
// and the same sequence always yields the same counts and the same snapshot.
package counter

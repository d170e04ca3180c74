// Package harness runs YAML scenarios against a real dispatcher, store and
// event log.
//
// A scenario is a list of steps (connect, emit, disconnect, restart,
// fail_appends, tick) followed by assertions on the final state. Each run
// uses a fresh temporary log, a fake clock and the caller's connection names,
// so the resulting trace and log contents are byte-for-byte reproducible and
// can be compared against golden files.
//
// A restart step closes the log and rebuilds a new store from it, the same
// way the server recovers at startup. Session bindings do not survive it.
package harness

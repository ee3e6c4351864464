// Package harness runs scenario files against the sync engine.
//
// A scenario declares a task file, optional pre-existing tracker objects,
// injected tracker faults and a sequence of steps (reconcile, sync a status,
// validate, or mutate the tracker behind the engine's back). The harness
// wires a real engine over an in-memory tracker and an in-memory SQLite
// metadata store, records every remote write it makes, then evaluates the
// scenario's assertions against that trace and the final state.
//
// Runs are deterministic: the executor uses ImmediatePolicy, the clock is
// fake and remote IDs are sequential, so the recorded trace can be compared
// byte-for-byte against a golden file.
package harness

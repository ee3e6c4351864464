// Package tracker defines the issue tracker contract consumed by the sync
// engine and provides two implementations: Memory, an in-process tracker with
// fault injection used by tests and the scenario harness, and HTTPClient, a
// JSON/HTTP binding for a remote tracker (see package trackerd for the server).
package tracker

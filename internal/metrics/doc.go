// Package metrics provides Prometheus metrics for the worker agent.
//
// Key metrics:
//   - Open realtime connections per channel kind
//   - Reconnect attempts and exhausted reconnect budgets
//   - Inbound messages by type, parse errors and rejected sends
//   - Event journal inserts, errors and drops
//
// A Collector satisfies connection.Recorder and journal.Recorder so it can be
// handed directly to the manager and the journal writer.
package metrics

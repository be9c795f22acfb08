// Package docstore provides a SQLite-backed document store with
// Firestore-style paths, atomic batches, transactions, field transforms and
// live query subscriptions.
//
// # Layout
//
// Documents live at slash-separated paths with an even number of segments:
//
//	chats/{conversationId}
//	chats/{conversationId}/messages/{messageId}
//
// A document's collection is its parent path. Data is stored as JSON and
// decoded with integral numbers as int64 and the rest as float64.
//
// # Ordering
//
//   - Every document receives a seq from the store clock when it is first
//     inserted. seq never changes afterwards.
//   - Server timestamps are unix milliseconds from the same clock and are
//     non-decreasing across commits.
//   - Query results sort by the requested field with ties broken by seq.
//
// # Subscriptions
//
// Subscribe re-runs the query after every commit that touches the query's
// collection and delivers a Snapshot when the result changed. Each
// subscription owns a delivery goroutine fed by an unbounded queue, so
// callbacks never run under store locks and may write back to the store.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection: writes and reads share a single writer
package docstore

// Package store provides SQLite-backed durable storage for collaborative
// document records.
//
// Every document identity owns two append-only collections:
//   - Updates: one incremental CRDT delta per row
//   - Snapshots: one full encoded CRDT state per row, plus the number of
//     updates folded into it
//
// The store knows nothing about CRDT semantics. Payloads are opaque bytes.
//
// # Ordering
//
// Reads are ordered by created_at ASC, id ASC. Timestamps come from the
// writer; the id tie-break keeps results deterministic when two writers
// share a timestamp.
//
// # Realtime delivery
//
// SubscribeAdded runs one goroutine per subscription. Local appends wake it
// through a coalescing signal channel; a poll ticker picks up rows appended by
// other processes that share the database file. Delivery is at-least-once.
//
// # Deletion
//
// Rows are removed only by BatchDelete, in transactions of bounded size.
// A failed chunk leaves the rest of the rows untouched.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Document identities are NFC-normalized via CanonicalID before use.
package store

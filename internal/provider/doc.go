// Package provider implements the per-document replication protocol between
// an in-memory CRDT document and a record store.
//
// There is no realtime server. Sessions converge by appending deltas to a
// shared update log and subscribing to each other's appends:
//
//	local edit --(Local)--> onChange --> Append(update)
//	                                        |
//	other session <-- SubscribeAdded <------+
//	    Apply(payload, Remote) --> onChange ignores Remote
//
// Everything the provider applies is tagged Remote, and only Local changes
// are published, so a session never re-publishes what it received.
//
// # Delivery
//
// Updates may arrive out of order or more than once (the history read in
// Connect overlaps with the subscription). CRDT merge is commutative and
// idempotent, so the provider neither sequences nor deduplicates.
//
// # Failures
//
// The provider is best-effort. Store errors are logged through log/slog and
// absorbed: a failed read is treated as an empty result, a failed publish is
// dropped (the edit remains in the live document), a failed compaction step
// aborts that attempt only. None of Connect, Disconnect, or Compact returns
// an error.
package provider

// Package harness runs multi-session replication scenarios.
//
// A scenario describes several editing sessions of one document. Each
// session opens its own Store on a shared SQLite file, the way separate
// processes would, and edits go through the registry and provider exactly
// as in production.
//
// # Scenario Format
//
//	name: two_writers
//	description: "Concurrent edits converge"
//	doc: notes
//	compaction_threshold: 3
//	steps:
//	  - session: alice
//	    open: true
//	  - session: alice
//	    set: { title: "Roadmap" }
//	  - session: bob
//	    open: true
//	  - session: bob
//	    delete: [title]
//	  - sync: true
//	  - session: alice
//	    release: true
//	assertions:
//	  - type: converged
//	  - type: values
//	    session: bob
//	    expect: {}
//	  - type: record_count
//	    kind: snapshots
//	    count: 1
//
// # Step Types
//
// Each step does exactly one thing:
//
//   - open: acquire the document for a session
//   - set / delete: local edits in an open session
//   - release: release a session's document (compacts past the threshold)
//   - compact: run one compaction attempt in an open session
//   - sync: wait until every open session holds the same state
//
// # Assertion Types
//
//   - converged: every open session holds the same state
//   - values: a session's values equal expect; without a session, a fresh
//     reader loads the document from the store
//   - record_count: the store holds count records of kind
//   - published: a session published count updates
//
// # Deterministic Testing
//
// Record timestamps come from testutil.DeterministicClock and replica IDs are
// the session names, so a scenario always produces the same trace and the
// same encoded state. RunWithGolden compares both against a golden file.
package harness

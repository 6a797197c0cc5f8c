// Package harness runs audit conformance scenarios.
//
// A scenario seeds a fresh in-memory store from a fixture and runs a list of
// queries against the audit service and event ledger, checking each step's
// expectations and, in tests, comparing the outputs with a golden file.
//
// # Scenario Format
//
//	name: order_lifecycle
//	description: "What this scenario validates"
//	schema: ../schema
//	fixture: ../fixtures/shop.yaml
//	steps:
//	  - query: get
//	    object: 1
//	    at: commit:3
//	    expect:
//	      fields: { status: new }
//	  - query: history
//	    root: 1
//	    axis: commit
//	    expect:
//	      commits: [1, 5, 7]
//	  - query: diff
//	    root: 1
//	    from: commit:3
//	    to: date:2020-06-01
//	    expect:
//	      objects: [1, 2, 4]
//	      actions: [changed, changed, added]
//	  - query: view_as_of
//	    target: 1
//	    date: 2021-02-01
//	    expect:
//	      rolled_back: [3, 2]
//	  - query: get
//	    object: 99
//	    at: commit:1
//	    expect:
//	      error: NOT_FOUND
//
// A step without expect must succeed. A view_as_of step restores the view
// before the next step runs.
//
// # Deterministic Testing
//
// Fixture commit timestamps default to a fixed epoch and event ids are
// assigned in fixture order by a fresh database, so step outputs are
// identical across runs.
package harness

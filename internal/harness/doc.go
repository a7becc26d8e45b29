// Package harness runs YAML conformance scenarios against a fresh sync core.
//
// Each scenario gets its own temp-dir data store, in-memory preferences, a
// fixed clock and a seeded id generator, so two runs of the same scenario
// produce byte-identical traces.
//
// # Scenario Format
//
//	name: rent-propagation
//	description: "Editing a template reaches every attached budget"
//	mirroring: false
//	remote: { available: false, has_data: false }
//	setup:
//	  - invoke: budget.create
//	    as: jan
//	    args: { start: 2025-01-01, end: 2025-01-31 }
//	flow:
//	  - invoke: template.create
//	    as: rent
//	    args: { title: Rent, planned: "1500", date: 2025-01-01 }
//	    expect:
//	      outcome: ok
//	      result: { id: $rent }
//	assertions:
//	  - type: record
//	    kind: planned_expense
//	    where: { budget_id: $jan }
//	    expect: { planned_amount: "1500" }
//
// Ids never appear literally. A step's "as" binds the id it returns and later
// steps refer to it as "$name". The seed workspaces are pre-bound as
// $personal, $work and $education.
//
// # Assertion Types
//
//   - count: number of records of a kind matching where
//   - record: exactly one record matches where and has the expected columns
//   - events: number of change events with a reason seen during the flow
//   - mode: the store mode after the flow
//   - active: the active workspace after the flow
//
// # Golden Files
//
// The flow trace (operation, outcome, result, events per step) is rendered
// as indented JSON and compared against testdata/golden/<name>.golden.
package harness

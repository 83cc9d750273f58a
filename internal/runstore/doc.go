// Package runstore persists planner runs in SQLite: one row per run, the
// loss dictionary of every batch and the decoded actions.
//
// Responsibilities: schema migrations (embedded, applied on Open), run
// CRUD, loss history and action records.
// Key types: Store, Run, BatchLoss, ActionRecord.
//
// Dependency rule: runstore may depend on internal/policy for its result
// types. Nothing in internal/policy may import runstore.
package runstore

// Package preflight provides readiness checks for the filesystem paths and
// services a batch depends on.
//
// The CLI runs RunAll after the output directories are created and before
// any job starts. Failed checks are logged as warnings; the orchestrator's own
// precondition checks decide whether the run proceeds.
package preflight

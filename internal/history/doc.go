// Package history persists batch summaries in a small SQLite database so the
// CLI can show recent runs.
//
// The store uses the pure-Go modernc.org/sqlite driver in WAL mode with a busy
// timeout, retries SQLITE_BUSY with bounded backoff, and prunes to the
// configured number of runs after every insert.
package history

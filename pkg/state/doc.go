// Package state persists replication bookmarks.
//
// A bookmark is the highest replication-key value seen for a resource in the
// last successful run. Bookmarks only move forward: Manager.Commit ignores
// values that are not after the stored one. Runs that fail or are cancelled
// commit nothing, so the next run re-reads from the previous bookmark and
// records may be emitted again (at-least-once delivery).
//
// Backends:
//
//   - MemoryStore: process-local, for tests and one-shot runs
//   - FileStore: a Singer state file ({"bookmarks": {...}})
//   - RedisStore: one key per resource
//   - SQLiteStore / PostgresStore: a bookmarks table, upserted per resource
package state

// Package index persists the shared file index and the cleanup history in
// SQLite.
//
// The indexer replaces a target's rows wholesale with ReplaceTarget; the
// evictor reads candidates with Expired and Fresh and removes rows with
// DeletePaths only after the files are gone from disk, so the index can lag
// behind the filesystem by additions but never claims a file that was evicted.
// Every eviction attempt appends one HistoryRecord.
//
// The database runs in WAL mode with a generous busy timeout, and writes are
// retried with bounded backoff when SQLite still reports the file busy. A
// schema_version table guards against opening a database written by an
// incompatible build.
package index

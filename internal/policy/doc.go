// Package policy models per-directory eviction policies and the on-disk store
// that holds them.
//
// Each policy is a small versioned TOML file named <id>.toml in the policy
// directory. The indexer and evictor call Store.Snapshot once at the start of
// a run and pass the result down; nothing caches policies between runs. The
// control plane edits policies through Write and Delete, which validate
// against the path guard and replace files atomically under an exclusive
// directory lock.
package policy

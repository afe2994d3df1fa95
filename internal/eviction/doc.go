// Package eviction deletes indexed files according to a target's policy.
//
// The age rule removes everything modified before the cutoff. The size rule
// applies the age rule first and then removes the oldest remaining files
// until the target fits its quota. Physical deletes always happen before the
// matching index rows are dropped, so the index can be stale only by holding
// rows for files that are already gone.
package eviction

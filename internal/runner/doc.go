// Package runner owns the lifecycle of the three process roles: indexer,
// evictor and control plane.
//
// Each role run takes its singleton lock, gets a fresh run id and log file,
// snapshots the policy directory once, and then works through the targets one
// at a time. A second instance of a role logs a warning and returns without
// error. Shutdown signals are honored between targets, never inside one.
package runner

// Package logging assembles structured slog loggers and formatting helpers used
// across cleanupd roles.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and defines the standard field keys (role, run_id, target,
// policy_id, event_type). WarnWithContext and ErrorWithContext make sure every
// warning carries an event type, a hint, and the impact on the run, which is
// what an operator reading an unattended janitor's log needs.
//
// The package also provides a no-op logger for tests and wiring code that
// cannot fail, and CleanupOldLogs for pruning per-run log files.
package logging

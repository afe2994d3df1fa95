// Package rolelock guarantees at most one running process per role.
//
// Each role (indexer, evictor, api) owns <lock_dir>/<role>.pid. Acquire takes
// a non-blocking exclusive advisory lock on it and records the holder's PID.
// A second instance gets ErrBusy and is expected to log a warning and exit
// successfully. Release removes the file before unlocking it.
package rolelock

// Package config loads, normalizes, and validates cleanupd configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the CLEANUPD_API_TOKEN environment
// fallback. The Config type covers the process-wide knobs: where the index
// database, policy directory, role locks, and logs live, which roots are
// protected from eviction, and how the control plane binds.
//
// Per-directory eviction policies are deliberately kept out of Config; see
// package policy for those.
package config

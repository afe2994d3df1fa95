// Command cleanupd is the single binary behind every cleanupd role.
//
// `cleanupd index` and `cleanupd evict` each run one session and exit; they
// are meant to be started by cron or a systemd timer. `cleanupd serve` runs
// the authenticated control plane until interrupted. The remaining commands
// (policy, history, metrics, config) read or edit local state directly and do
// not need a running server.
package main

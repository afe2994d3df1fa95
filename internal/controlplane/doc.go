// Package controlplane serves the HTTP interface used to manage policies and
// read index metrics and cleanup history.
//
// The server reads and writes policy files and reads the index. It never
// deletes files and never writes the index. Routes under /api/ require a
// bearer token when one is configured; /health and the Prometheus exposition
// at /metrics do not.
package controlplane

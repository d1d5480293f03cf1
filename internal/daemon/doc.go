// Package daemon coordinates the long-running slate process.
//
// It wires configuration, the task queue, the project library, and the
// workflow manager into a single lifecycle with flock-based locking to
// prevent multiple instances. The daemon exposes queue maintenance helpers
// and serves the read-only HTTP status API.
//
// Keep orchestration logic here: individual pipeline stages live in their
// respective packages while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon

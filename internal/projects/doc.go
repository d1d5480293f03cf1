// Package projects persists the production library in SQLite: projects and
// their shots, micro-shots, characters, locations, and continuity locks.
//
// A project carries an advisory lock while a generation task runs; writers
// that hit the lock receive services.ErrLocked and are expected to retry
// with a fixed backoff (see LockRetry in the workflow config).
package projects

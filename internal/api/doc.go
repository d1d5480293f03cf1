// Package api defines transport-friendly representations of queue tasks,
// projects, and daemon status, plus the read-only services the HTTP API and
// CLI share. Conversions normalize timestamps to RFC3339 and keep raw JSON
// columns opaque.
package api

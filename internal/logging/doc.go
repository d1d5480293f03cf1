// Package logging builds the slog loggers used across slate and provides
// shared attribute helpers so components emit consistent structured fields.
package logging

// Package queue persists production tasks in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, heartbeat tracking, zombie-task recovery, and status transitions
// that mirror the generation pipeline enum. Tasks capture progress, vendor
// payloads, and error details so stages can coordinate without additional
// state.
//
// The database is treated as transient storage for in-flight work rather
// than a long-term archive. Schema changes bump the version in schema.go;
// users clear the database to adopt the new schema.
package queue

// Package storage keeps an append-only history of fired timers.
//
// It is an audit trail, not timer persistence: pending timers are never
// written here and nothing is restored from it on start.
//
// Drivers:
//   - "file": JSON Lines file, newest records cached in memory
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
package storage

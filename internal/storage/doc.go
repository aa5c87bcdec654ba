// Package storage persists reminder records, their window instances, the
// archive, the repeat-occurrence ledger and the alarm permission flag.
//
// Drivers:
//   - "memory": process-local maps (tests, --once runs)
//   - "file":   snapshot + append-only journal (JSON Lines)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL through pgx's database/sql adapter
package storage

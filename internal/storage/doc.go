// Package storage keeps the run history: one append-only row per timer
// stop, finish, lap or reset. Live timer state is never persisted.
//
// Drivers:
//   - "file": JSON Lines under <path>.runs.jsonl
//   - "sqlite": a SQLite database file (modernc.org/sqlite, no cgo)
//   - "" or "none": disabled
package storage

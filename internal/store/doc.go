// Package store provides SQLite-backed storage for the remote side of the
// replica protocol: the authoritative record table and the change log the
// sqlite gateway tails.
//
// The store keeps:
//   - Records: one row per (kind, key), the JSON payload and the seq of the
//     last change that wrote it
//   - Changes: an append-only log of every insert, update and delete
//
// # Patterns
//
// Every write updates the record table and appends to the change log in one
// transaction, so a reader tailing the log never sees a change whose record
// write was rolled back.
//
// Ordering uses the change log's seq, never timestamps. Queries return rows
// ORDER BY seq ASC, key ASC COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes, several processes per file
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Payloads are opaque to the store. Gateways encode records with the
// gateway envelope codec.
package store

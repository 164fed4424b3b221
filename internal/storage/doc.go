// Package storage provides the key/value persistence layer behind the
// notification history.
//
// Values are JSON-encoded. Backends:
//   - memory: process-local map (tests, ephemeral shells)
//   - file:   JSON snapshot + append-only journal, compacted periodically
//   - sqlite: single kv table in a SQLite database file
package storage

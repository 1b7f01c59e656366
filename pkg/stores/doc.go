// Package stores provides the persistence layer for the Stratus
// orchestration core. It includes SQLite-based storage with WAL mode,
// connection pooling and the transactional primitives the order ledger
// relies on: single-transaction order admission and atomic callback
// finalization.
package stores

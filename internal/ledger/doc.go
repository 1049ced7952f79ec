// Package ledger stores custody chains, one append-only chain per lot.
//
// Append serializes writers per lot, reads the lot's head hash and mints the
// next event with custody.Append, so the stored PrevHash is always the hash
// of the event stored before it. A successor that would sort before the head
// is refused with ErrOutOfOrder, and AppendAfter additionally refuses when
// the head is not the one the caller checked. Stores also refuse a second
// event claiming the same predecessor, which keeps every chain linear.
//
// Three implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for tests and demos.
//   - PostgresLedger: durable, for multi-instance deployments.
//   - SQLiteLedger: durable single-file storage for one instance.
package ledger

// Package custody implements the hash chain behind a lot's custody history.
//
// Every custody action on a lot is recorded as an Event whose Hash is the
// SHA-256 of a canonical encoding of its fields plus the hash of the event
// before it. The first event of a lot (the genesis event) chains from the
// empty string. Anyone holding the events can recompute the chain with
// Validate; no key is involved.
//
// Timestamps are hashed at millisecond resolution. Append truncates to the
// millisecond, and Validate reports any event whose timestamp carries a finer
// fraction, so a sub-millisecond edit cannot pass unnoticed.
//
// The package is pure: it does no I/O, keeps no state, and is safe to call
// from any number of goroutines.
package custody

// Package engine is the interleaving core of parcheck: task handles,
// operation permits, the controller, and the schedule tree that drives
// systematic enumeration of operation-granularity schedules.
//
// Nothing in this package is part of the public API; github.com/hrygo/parcheck
// is a thin facade over it, the way src/enabled was private to the original
// Rust crate's lib.rs.
package engine

// Package parcheck is a deterministic permutation tester for concurrent
// asynchronous programs. A test body spawns named cooperative tasks, each
// performing a sequence of annotated operations; parcheck enumerates (or
// replays) every distinct interleaving of those operations at operation
// granularity, running the body once per schedule and reporting the exact
// schedule that reproduced a failure.
//
// It is the Go runtime core of a property-style concurrency checker in the
// spirit of PCT/deterministic scheduler exploration, specialized for
// cooperative, goroutine-based async code. See SPEC_FULL.md for the full
// design and DESIGN.md for how each part is grounded.
package parcheck

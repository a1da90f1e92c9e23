// Package scheduler runs deferred and periodic calls at block boundaries.
//
// Modules (or signed callers, through the extrinsic surface) submit a call to
// run at a future block, optionally recurring. Entries live in the agenda
// (block number -> entries) in chain state. Once per block, OnInitialize pops
// the current slot and executes entries in (due, priority, seq) order through
// the dispatch shim under a weight budget:
//   - entries that do not fit are carried to the next block, keeping their
//     due block, so they run ahead of that block's own entries
//   - a failing call is an event, never a block failure
//   - periodic entries are re-inserted at current + interval, even when the
//     call failed
package scheduler

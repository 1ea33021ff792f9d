// Package scheduler implements the reactive update scheduler. Views declare
// their dependencies at registration; dirty marks are coalesced over a short
// batch window and propagated in one topological sweep, so within a batch
// every view recomputes at most once and never observes a half-updated
// dependency.
//
// Views receive their ambient capabilities (time, randomness, storage)
// through the Effects interfaces instead of reaching for globals, which keeps
// recomputation deterministic under the simulated implementations.
package scheduler

// Package node implements the Halo node: the event loop that ties the
// journal, the consensus manager, the recovery coordinator, the reactive
// scheduler and the guard chain to a network transport.
//
// The node is a state machine (Running, Suspended, Shutdown). While Running
// it gossips its journal with a random peer on every heartbeat, serves
// incoming RPCs, and drives pending intents through signing rounds. A
// Suspended node keeps serving reads but initiates nothing.
package node

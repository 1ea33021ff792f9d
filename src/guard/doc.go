// Package guard implements the send-site guard chain. Every outbound
// envelope passes AuthGuard (does a capability token cover this send?),
// then FlowGuard (is there budget left for this context and peer?), then
// the JournalCoupler, which issues the receipt that ties the send to the
// node's fact log. A send that fails any guard never reaches the transport.
package guard

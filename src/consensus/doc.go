// Package consensus runs threshold signing rounds over pending intents.
//
// An instance starts Pending and moves to FastPathActive when enough
// witnesses have cached nonce commitments for a single round trip, or to
// FallbackActive when commitments have to be collected first. Enough
// matching shares commit the instance; a deadline, a losing epoch slot or a
// witness signing two different results fails it. Terminal instances leave a
// durable commit or failure fact in the journal before they are collected.
package consensus

// Package peers defines the concept of a Halo peer and implements functions
// to manage collections of peers.
//
// A peer is another device of the same authority, or a linked authority's
// device, that this node exchanges journal state with. Peers are identified
// by their device public keys, and optionally a moniker which is a
// non-unique user-friendly name, plus the network address where they can be
// reached.
//
// Upon starting up, a node expects to find a peers.json file in its data
// directory listing the peers it should attempt to sync with.
package peers

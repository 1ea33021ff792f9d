package node

import (
	"math/rand"

	"github.com/halonetworks/halo/src/peers"
)

// PeerSelector defines an interface for peer selectors.
type PeerSelector interface {
	Peers() *peers.PeerSet
	UpdateLast(peerAddr string)
	Next() *peers.Peer
}

// RandomPeerSelector selects gossip partners at random, avoiding the last
// one and itself.
type RandomPeerSelector struct {
	peers           *peers.PeerSet
	selfAddr        string
	selectablePeers []*peers.Peer
	last            string
}

// NewRandomPeerSelector is a factory method that returns a new instance of
// RandomPeerSelector.
func NewRandomPeerSelector(peerSet *peers.PeerSet, selfAddr string) *RandomPeerSelector {
	_, selectablePeers := peers.ExcludePeer(peerSet.Peers, selfAddr)
	return &RandomPeerSelector{
		peers:           peerSet,
		selfAddr:        selfAddr,
		selectablePeers: selectablePeers,
	}
}

// Peers returns the full peer set.
func (ps *RandomPeerSelector) Peers() *peers.PeerSet {
	return ps.peers
}

// UpdateLast sets the last peer.
func (ps *RandomPeerSelector) UpdateLast(peerAddr string) {
	ps.last = peerAddr
}

// Next returns the next peer.
func (ps *RandomPeerSelector) Next() *peers.Peer {
	selectablePeers := ps.selectablePeers

	if len(selectablePeers) == 0 {
		return nil
	}

	if len(selectablePeers) > 1 {
		_, selectablePeers = peers.ExcludePeer(selectablePeers, ps.last)
	}

	i := rand.Intn(len(selectablePeers))

	return selectablePeers[i]
}

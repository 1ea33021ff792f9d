package node

import (
	"fmt"
	"testing"

	"github.com/halonetworks/halo/src/crypto/keys"
	"github.com/halonetworks/halo/src/peers"
)

func selectorPeers(t *testing.T, n int) []*peers.Peer {
	out := make([]*peers.Peer, n)
	for i := range out {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		out[i] = peers.NewPeer(
			keys.PublicKeyHex(&key.PublicKey),
			fmt.Sprintf("127.0.0.1:%d", 9000+i),
			fmt.Sprintf("peer%d", i),
		)
	}
	return out
}

func TestRandomPeerSelectorExcludesSelf(t *testing.T) {
	peerList := selectorPeers(t, 3)
	selector := NewRandomPeerSelector(peers.NewPeerSet(peerList), peerList[0].NetAddr)

	for i := 0; i < 20; i++ {
		next := selector.Next()
		if next == nil {
			t.Fatal("a selector with selectable peers should return one")
		}
		if next.NetAddr == peerList[0].NetAddr {
			t.Fatal("the selector must never pick the node itself")
		}
	}
}

func TestRandomPeerSelectorAvoidsLast(t *testing.T) {
	peerList := selectorPeers(t, 3)
	selector := NewRandomPeerSelector(peers.NewPeerSet(peerList), peerList[0].NetAddr)

	selector.UpdateLast(peerList[1].NetAddr)
	for i := 0; i < 20; i++ {
		if next := selector.Next(); next.NetAddr == peerList[1].NetAddr {
			t.Fatal("the selector should avoid the previous partner when it has a choice")
		}
	}
}

func TestRandomPeerSelectorSinglePeer(t *testing.T) {
	peerList := selectorPeers(t, 2)
	selector := NewRandomPeerSelector(peers.NewPeerSet(peerList), peerList[0].NetAddr)

	// with exactly one choice, the last-partner rule gives way
	selector.UpdateLast(peerList[1].NetAddr)
	if next := selector.Next(); next == nil || next.NetAddr != peerList[1].NetAddr {
		t.Fatal("the only selectable peer should still be returned")
	}

	alone := NewRandomPeerSelector(peers.NewPeerSet(peerList[:1]), peerList[0].NetAddr)
	if alone.Next() != nil {
		t.Fatal("a node with no other peers has nobody to gossip with")
	}
}

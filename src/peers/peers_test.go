package peers

import (
	"crypto/ecdsa"
	"fmt"
	"reflect"
	"testing"

	"github.com/halonetworks/halo/src/crypto/keys"
)

func testKeys(t *testing.T, n int) []*ecdsa.PrivateKey {
	out := make([]*ecdsa.PrivateKey, n)
	for i := range out {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		out[i] = key
	}
	return out
}

func testPeers(t *testing.T, n int) []*Peer {
	privateKeys := testKeys(t, n)
	out := make([]*Peer, n)
	for i, k := range privateKeys {
		out[i] = NewPeer(
			keys.PublicKeyHex(&k.PublicKey),
			fmt.Sprintf("127.0.0.1:%d", 9000+i),
			fmt.Sprintf("peer%d", i),
		)
	}
	return out
}

func TestPeerIDFromPubKey(t *testing.T) {
	peer := testPeers(t, 1)[0]

	id := peer.ID()
	if id.IsZero() {
		t.Fatal("a peer with a valid key should have a non-zero ID")
	}

	pk, err := peer.PubKeyBytes()
	if err != nil {
		t.Fatal(err)
	}
	if len(pk) == 0 {
		t.Fatal("PubKeyBytes should decode the hex key")
	}

	// the ID is stable
	if peer.ID() != id {
		t.Fatal("the peer ID should be cached and stable")
	}
}

func TestPeerSetLookups(t *testing.T) {
	peerList := testPeers(t, 3)
	peerSet := NewPeerSet(peerList)

	if peerSet.Len() != 3 {
		t.Fatalf("expected 3 peers, got %d", peerSet.Len())
	}
	for _, p := range peerList {
		if peerSet.ByPubKey[p.PubKeyHex] != p {
			t.Fatalf("peer %s should be indexed by public key", p.Moniker)
		}
		if peerSet.ByID[p.ID()] != p {
			t.Fatalf("peer %s should be indexed by ID", p.Moniker)
		}
	}
	if len(peerSet.IDs()) != 3 || len(peerSet.PubKeys()) != 3 {
		t.Fatal("the slice views should cover every peer")
	}
}

func TestPeerSetWithNewAndRemovedPeer(t *testing.T) {
	peerList := testPeers(t, 3)
	peerSet := NewPeerSet(peerList[:2])

	grown := peerSet.WithNewPeer(peerList[2])
	if grown.Len() != 3 {
		t.Fatalf("expected 3 peers after the addition, got %d", grown.Len())
	}

	// adding an existing peer changes nothing
	same := grown.WithNewPeer(peerList[0])
	if same.Len() != 3 {
		t.Fatal("re-adding a known peer should not grow the set")
	}

	shrunk := grown.WithRemovedPeer(peerList[1])
	if shrunk.Len() != 2 {
		t.Fatalf("expected 2 peers after the removal, got %d", shrunk.Len())
	}
	if _, ok := shrunk.ByID[peerList[1].ID()]; ok {
		t.Fatal("the removed peer should be gone")
	}
}

func TestPeerSetHash(t *testing.T) {
	peerList := testPeers(t, 3)

	a := NewPeerSet(peerList)
	b := NewPeerSet(peerList)
	if a.Hash() != b.Hash() {
		t.Fatal("identical peer sets should hash identically")
	}

	c := a.WithRemovedPeer(peerList[0])
	if a.Hash() == c.Hash() {
		t.Fatal("different peer sets should hash differently")
	}

	// slice order matters, by design: genesis rosters derive from it
	reversed := NewPeerSet([]*Peer{peerList[2], peerList[1], peerList[0]})
	if a.Hash() == reversed.Hash() {
		t.Fatal("reordering the peers should change the hash")
	}
}

func TestExcludePeer(t *testing.T) {
	peerList := testPeers(t, 3)

	index, rest := ExcludePeer(peerList, peerList[1].NetAddr)
	if index != 1 {
		t.Fatalf("expected the excluded index to be 1, got %d", index)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining peers, got %d", len(rest))
	}

	index, rest = ExcludePeer(peerList, "10.0.0.1:1")
	if index != -1 || len(rest) != 3 {
		t.Fatal("excluding an unknown address should change nothing")
	}
}

func TestJSONPeerSetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONPeerSet(dir)

	peerList := testPeers(t, 3)
	if err := store.Write(peerList); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.PeerSet()
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Len() != 3 {
		t.Fatalf("expected 3 peers back, got %d", loaded.Len())
	}
	if !reflect.DeepEqual(NewPeerSet(peerList).PubKeys(), loaded.PubKeys()) {
		t.Fatal("the loaded peers should keep their keys and order")
	}
	if loaded.Hash() != NewPeerSet(peerList).Hash() {
		t.Fatal("the loaded set should hash like the original")
	}
}

func TestJSONPeerSetCleansesKeys(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONPeerSet(dir)

	peer := testPeers(t, 1)[0]
	// lower-case, unprefixed variant of the same key
	mangled := NewPeer("0x"+peer.PubKeyHex[2:], peer.NetAddr, peer.Moniker)
	if err := store.Write([]*Peer{mangled}); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.PeerSet()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Peers[0].PubKeyHex != peer.PubKeyHex {
		t.Fatalf("the loaded key should be canonical: %s vs %s", loaded.Peers[0].PubKeyHex, peer.PubKeyHex)
	}
	if loaded.Peers[0].ID() != peer.ID() {
		t.Fatal("cleansing must not change the derived ID")
	}
}

package peers

import (
	"bytes"
	"encoding/json"

	"github.com/halonetworks/halo/src/crypto"
	"github.com/halonetworks/halo/src/types"
)

// PeerSet is the set of peers a node syncs with.
type PeerSet struct {
	Peers    []*Peer                  `json:"peers"`
	ByPubKey map[string]*Peer         `json:"-"`
	ByID     map[types.DeviceID]*Peer `json:"-"`

	//cached values
	hash types.Hash32
}

/* Constructors */

// NewPeerSet creates a new PeerSet from a list of Peers.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByPubKey: make(map[string]*Peer),
		ByID:     make(map[types.DeviceID]*Peer),
	}

	for _, peer := range peers {
		peerSet.ByPubKey[peer.PubKeyHex] = peer
		peerSet.ByID[peer.ID()] = peer
	}

	peerSet.Peers = peers

	return peerSet
}

// NewPeerSetFromPeerSliceBytes creates a new PeerSet from a JSON-encoded
// peer slice.
func NewPeerSetFromPeerSliceBytes(peerSliceBytes []byte) (*PeerSet, error) {
	peers := []*Peer{}

	b := bytes.NewBuffer(peerSliceBytes)
	dec := json.NewDecoder(b)

	if err := dec.Decode(&peers); err != nil {
		return nil, err
	}

	return NewPeerSet(peers), nil
}

// WithNewPeer returns a new PeerSet including the new peer.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := peerSet.Peers

	if _, ok := peerSet.ByID[peer.ID()]; !ok {
		peers = append(peers, peer)
	}

	return NewPeerSet(peers)
}

// WithRemovedPeer returns a new PeerSet excluding the provided peer.
func (peerSet *PeerSet) WithRemovedPeer(peer *Peer) *PeerSet {
	peers := []*Peer{}
	for _, p := range peerSet.Peers {
		if p.PubKeyHex != peer.PubKeyHex {
			peers = append(peers, p)
		}
	}
	return NewPeerSet(peers)
}

/* ToSlice Methods */

// PubKeys returns the PeerSet's slice of public keys.
func (peerSet *PeerSet) PubKeys() []string {
	res := []string{}

	for _, peer := range peerSet.Peers {
		res = append(res, peer.PubKeyHex)
	}

	return res
}

// IDs returns the PeerSet's slice of device identifiers.
func (peerSet *PeerSet) IDs() []types.DeviceID {
	res := []types.DeviceID{}

	for _, peer := range peerSet.Peers {
		res = append(res, peer.ID())
	}

	return res
}

/* Utilities */

// Len returns the number of Peers in the PeerSet.
func (peerSet *PeerSet) Len() int {
	return len(peerSet.ByPubKey)
}

// Hash uniquely identifies a PeerSet, folding the peers' public keys in
// slice order.
func (peerSet *PeerSet) Hash() types.Hash32 {
	if peerSet.hash.IsZero() {
		chunks := [][]byte{[]byte("HALO_PEER_SET")}
		for _, p := range peerSet.Peers {
			pk, _ := p.PubKeyBytes()
			chunks = append(chunks, pk)
		}
		peerSet.hash = crypto.Blake3Concat(chunks...)
	}
	return peerSet.hash
}

// Marshal encodes the peer slice as JSON.
func (peerSet *PeerSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(peerSet.Peers); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

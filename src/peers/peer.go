package peers

import (
	"encoding/hex"
	"strings"

	"github.com/halonetworks/halo/src/types"
)

// Peer is a device this node syncs with.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string

	id types.DeviceID
}

// NewPeer creates a Peer from its public key and network address.
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	return &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}
}

// PubKeyBytes decodes the peer's public key.
func (p *Peer) PubKeyBytes() ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.ToUpper(p.PubKeyHex), "0X"))
}

// ID returns the peer's device identifier, derived from its public key.
func (p *Peer) ID() types.DeviceID {
	if p.id.IsZero() {
		pubKey, err := p.PubKeyBytes()
		if err != nil {
			return types.DeviceID{}
		}
		p.id = types.NewDeviceID(pubKey)
	}
	return p.id
}

// ExcludePeer removes the peer with the given network address from a list,
// returning its index (-1 if absent) and the remaining peers.
func ExcludePeer(peers []*Peer, netAddr string) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.NetAddr != netAddr {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}

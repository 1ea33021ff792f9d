package types

import (
	"bytes"
	"encoding/hex"
)

// ID16 is the common representation of Halo's 16-byte opaque identifiers.
type ID16 [16]byte

func newID16(domain string, content ...[]byte) ID16 {
	chunks := append([][]byte{[]byte(domain)}, content...)
	digest := NewHash32(chunks...)
	var id ID16
	copy(id[:], digest[:16])
	return id
}

// Bytes returns the identifier as a slice.
func (id ID16) Bytes() []byte { return id[:] }

// String returns the full hex encoding.
func (id ID16) String() string { return hex.EncodeToString(id[:]) }

// Short returns the first 4 bytes in hex, for logs.
func (id ID16) Short() string { return hex.EncodeToString(id[:4]) }

// IsZero reports whether the identifier is unset.
func (id ID16) IsZero() bool { return id == ID16{} }

// Less imposes the total order on identifiers.
func (id ID16) Less(other ID16) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// AuthorityID identifies a threshold-controlled authority.
type AuthorityID = ID16

// DeviceID identifies a physical device participating in an authority.
type DeviceID = ID16

// LeafID identifies a leaf of the commitment tree.
type LeafID = ID16

// ContextID identifies a communication context (a relationship or channel).
type ContextID = ID16

// ConsensusID identifies one consensus instance.
type ConsensusID = ID16

// IntentID identifies a pending proposal in the journal's intent pool.
type IntentID = ID16

// CeremonyID identifies a guardian recovery ceremony.
type CeremonyID = ID16

// NewAuthorityID derives an AuthorityID from the authority's genesis
// material.
func NewAuthorityID(genesis []byte) AuthorityID {
	return newID16("HALO_AUTHORITY", genesis)
}

// NewDeviceID derives a DeviceID from a device public key.
func NewDeviceID(pubKey []byte) DeviceID {
	return newID16("HALO_DEVICE", pubKey)
}

// NewLeafID derives a LeafID from a leaf's key package.
func NewLeafID(keyPackage []byte) LeafID {
	return newID16("HALO_LEAF", keyPackage)
}

// NewContextID derives a ContextID from the two endpoint authorities.
func NewContextID(a, b AuthorityID) ContextID {
	// order the endpoints so both sides derive the same context
	if b.Less(a) {
		a, b = b, a
	}
	return newID16("HALO_CONTEXT", a[:], b[:])
}

// NewConsensusID derives a ConsensusID from the initiator, the prestate and
// the operation content, so that concurrent instances never collide.
func NewConsensusID(initiator DeviceID, prestate Hash32, opBytes []byte) ConsensusID {
	return newID16("HALO_CONSENSUS", initiator[:], prestate[:], opBytes)
}

// NewIntentID derives an IntentID from the intent's content.
func NewIntentID(content []byte) IntentID {
	return newID16("HALO_INTENT", content)
}

// NewCeremonyID derives a CeremonyID from the authority and the ceremony's
// recovery payload.
func NewCeremonyID(authority AuthorityID, content []byte) CeremonyID {
	return newID16("HALO_CEREMONY", authority[:], content)
}

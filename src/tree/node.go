package tree

import (
	"github.com/halonetworks/halo/src/crypto"
	"github.com/halonetworks/halo/src/types"
)

// Role distinguishes the kinds of leaves an authority admits.
type Role uint8

const (
	// RoleDevice is a signing device owned by the account holder.
	RoleDevice Role = iota
	// RoleGuardian is a human guardian who participates in recovery but not
	// in day-to-day signing.
	RoleGuardian
	// RoleObserver receives state but holds no signing power.
	RoleObserver
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "Device"
	case RoleGuardian:
		return "Guardian"
	case RoleObserver:
		return "Observer"
	default:
		return "Unknown"
	}
}

// Leaf is one participant of the commitment tree.
type Leaf struct {
	LeafID     types.LeafID      `json:"leaf_id"`
	LeafIndex  types.LeafIndex   `json:"leaf_index"`
	Role       Role              `json:"role"`
	KeyPackage []byte            `json:"key_package"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Commitment returns the leaf's contribution to the root fold: a digest of
// its role and key material.
func (l *Leaf) Commitment() types.Hash32 {
	return crypto.Blake3Concat(
		[]byte("HALO_LEAF_COMMIT"),
		l.LeafID.Bytes(),
		[]byte{byte(l.Role)},
		l.KeyPackage,
	)
}

// BranchSigningKey is the per-epoch group public key of a branch. The
// corresponding secret shares are held off-tree by the frost key stores of
// the participating devices.
type BranchSigningKey struct {
	GroupPublicKey []byte      `json:"group_public_key"`
	KeyEpoch       types.Epoch `json:"key_epoch"`
}

// Branch is an internal node of the commitment tree.
type Branch struct {
	NodeIndex  types.NodeIndex   `json:"node_index"`
	Policy     Policy            `json:"policy"`
	SigningKey *BranchSigningKey `json:"signing_key,omitempty"`
}

func (b *Branch) clone() *Branch {
	c := *b
	if b.SigningKey != nil {
		k := *b.SigningKey
		c.SigningKey = &k
	}
	return &c
}

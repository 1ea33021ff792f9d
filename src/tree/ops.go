package tree

import (
	"encoding/binary"
	"fmt"

	"github.com/halonetworks/halo/src/crypto"
	"github.com/halonetworks/halo/src/types"
)

// OpVersion is the current tree operation format version.
const OpVersion uint16 = 1

// OpTag enumerates the operation kinds. The tag byte leads every kind's
// canonical serialisation.
type OpTag uint8

const (
	// TagAddLeaf inserts a leaf at the next free slot.
	TagAddLeaf OpTag = iota + 1
	// TagRemoveLeaf removes a leaf and compacts the tree.
	TagRemoveLeaf
	// TagChangePolicy replaces a branch's policy.
	TagChangePolicy
	// TagRotateEpoch bumps the epoch and re-keys the affected branches.
	TagRotateEpoch
	// TagSnapshot is the synthetic fence written by journal compaction. It
	// records a state summary instead of a structural change.
	TagSnapshot
)

// RemoveReason records why a leaf was removed.
type RemoveReason uint8

const (
	// RemoveVoluntary is a clean departure initiated by the leaf's owner.
	RemoveVoluntary RemoveReason = iota
	// RemoveLost marks a lost or destroyed device.
	RemoveLost
	// RemoveRevoked marks an administratively revoked participant.
	RemoveRevoked
)

// OpKind is the tagged union of tree operation payloads. Exactly the fields
// belonging to Tag are set.
type OpKind struct {
	Tag OpTag `json:"tag"`

	// AddLeaf
	Leaf  *Leaf           `json:"leaf,omitempty"`
	Under types.NodeIndex `json:"under,omitempty"`

	// RemoveLeaf
	LeafIndex types.LeafIndex `json:"leaf_index,omitempty"`
	Reason    RemoveReason    `json:"reason,omitempty"`

	// ChangePolicy
	Node      types.NodeIndex `json:"node,omitempty"`
	NewPolicy *Policy         `json:"new_policy,omitempty"`

	// RotateEpoch
	Affected []types.NodeIndex `json:"affected,omitempty"`

	// Snapshot
	Snapshot *SnapshotSummary `json:"snapshot,omitempty"`
}

// SnapshotSummary is the payload of a TagSnapshot op: enough to re-seed a
// replica without the compacted history.
type SnapshotSummary struct {
	Epoch      types.Epoch `json:"epoch"`
	Commitment types.Hash32 `json:"commitment"`
	RosterHash types.Hash32 `json:"roster_hash"`
}

// AddLeafOp builds an AddLeaf kind.
func AddLeafOp(leaf *Leaf, under types.NodeIndex) OpKind {
	return OpKind{Tag: TagAddLeaf, Leaf: leaf, Under: under}
}

// RemoveLeafOp builds a RemoveLeaf kind.
func RemoveLeafOp(index types.LeafIndex, reason RemoveReason) OpKind {
	return OpKind{Tag: TagRemoveLeaf, LeafIndex: index, Reason: reason}
}

// ChangePolicyOp builds a ChangePolicy kind.
func ChangePolicyOp(node types.NodeIndex, policy Policy) OpKind {
	return OpKind{Tag: TagChangePolicy, Node: node, NewPolicy: &policy}
}

// RotateEpochOp builds a RotateEpoch kind.
func RotateEpochOp(affected []types.NodeIndex) OpKind {
	return OpKind{Tag: TagRotateEpoch, Affected: affected}
}

// SnapshotOp builds a Snapshot kind.
func SnapshotOp(summary SnapshotSummary) OpKind {
	return OpKind{Tag: TagSnapshot, Snapshot: &summary}
}

// Serialize returns the canonical byte form of the kind: the tag byte
// followed by the kind's fields in declaration order, fixed-width integers
// little-endian. This is the form bound into signatures, so it must stay
// bit-stable across versions.
func (k OpKind) Serialize() []byte {
	out := []byte{byte(k.Tag)}
	switch k.Tag {
	case TagAddLeaf:
		out = append(out, k.Leaf.LeafID.Bytes()...)
		out = append(out, k.Under.Bytes()...)
		out = append(out, k.Leaf.KeyPackage...)
	case TagRemoveLeaf:
		out = append(out, k.LeafIndex.Bytes()...)
		out = append(out, byte(k.Reason))
	case TagChangePolicy:
		out = append(out, k.Node.Bytes()...)
		policyHash := k.NewPolicy.Hash()
		out = append(out, policyHash.Bytes()...)
	case TagRotateEpoch:
		var count [4]byte
		binary.LittleEndian.PutUint32(count[:], uint32(len(k.Affected)))
		out = append(out, count[:]...)
		for _, n := range k.Affected {
			out = append(out, n.Bytes()...)
		}
	case TagSnapshot:
		out = append(out, k.Snapshot.Epoch.Bytes()...)
		out = append(out, k.Snapshot.Commitment.Bytes()...)
		out = append(out, k.Snapshot.RosterHash.Bytes()...)
	}
	return out
}

// String implements fmt.Stringer.
func (k OpKind) String() string {
	switch k.Tag {
	case TagAddLeaf:
		return fmt.Sprintf("AddLeaf(%s under %s)", k.Leaf.LeafID.Short(), k.Under)
	case TagRemoveLeaf:
		return fmt.Sprintf("RemoveLeaf(%s)", k.LeafIndex)
	case TagChangePolicy:
		return fmt.Sprintf("ChangePolicy(%s -> %s)", k.Node, k.NewPolicy)
	case TagRotateEpoch:
		return fmt.Sprintf("RotateEpoch(%d nodes)", len(k.Affected))
	case TagSnapshot:
		return fmt.Sprintf("Snapshot(epoch %s)", k.Snapshot.Epoch)
	default:
		return "Unknown"
	}
}

// Op is a tree operation bound to the parent state it was proposed against.
type Op struct {
	ParentEpoch      types.Epoch  `json:"parent_epoch"`
	ParentCommitment types.Hash32 `json:"parent_commitment"`
	Kind             OpKind       `json:"kind"`
	Version          uint16       `json:"version"`
}

// AttestedOp is an operation carrying an aggregate signature that satisfies
// the target branch's policy.
type AttestedOp struct {
	Op          Op     `json:"op"`
	AggSig      []byte `json:"agg_sig"`
	SignerCount uint32 `json:"signer_count"`
}

// bindingDomain leads every binding message.
const bindingDomain = "TREE_OP_VERIFY"

// BindingMessage computes the digest an attested op's signature covers:
//
//	BLAKE3("TREE_OP_VERIFY" || parent_epoch || parent_commitment ||
//	       version || current_epoch || group_public_key || serialize(kind))
//
// Including the group public key prevents a signature produced for one key
// from being replayed against a substituted key.
func (o *Op) BindingMessage(currentEpoch types.Epoch, groupPublicKey []byte) types.Hash32 {
	var version [2]byte
	binary.LittleEndian.PutUint16(version[:], o.Version)
	return crypto.Blake3Concat(
		[]byte(bindingDomain),
		o.ParentEpoch.Bytes(),
		o.ParentCommitment.Bytes(),
		version[:],
		currentEpoch.Bytes(),
		groupPublicKey,
		o.Kind.Serialize(),
	)
}

// Marshal returns the deterministic binary form of the attested op, used
// for journal frames and content hashing.
func (a *AttestedOp) Marshal() []byte {
	kind := a.Op.Kind.Serialize()

	var version [2]byte
	binary.LittleEndian.PutUint16(version[:], a.Op.Version)

	var kindLen, sigLen, signers [4]byte
	binary.LittleEndian.PutUint32(kindLen[:], uint32(len(kind)))
	binary.LittleEndian.PutUint32(sigLen[:], uint32(len(a.AggSig)))
	binary.LittleEndian.PutUint32(signers[:], a.SignerCount)

	out := make([]byte, 0, 8+32+2+4+len(kind)+4+len(a.AggSig)+4)
	out = append(out, a.Op.ParentEpoch.Bytes()...)
	out = append(out, a.Op.ParentCommitment.Bytes()...)
	out = append(out, version[:]...)
	out = append(out, kindLen[:]...)
	out = append(out, kind...)
	out = append(out, sigLen[:]...)
	out = append(out, a.AggSig...)
	out = append(out, signers[:]...)
	return out
}

// Hash returns the attested op's content hash. It is the value the
// journal's epoch tie-break compares.
func (a *AttestedOp) Hash() types.Hash32 {
	return crypto.Blake3(a.Marshal())
}

package tree

import (
	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/frost"
	"github.com/halonetworks/halo/src/types"
)

// SigningNode resolves the branch whose policy and signing key govern an
// operation kind.
func (s *State) SigningNode(kind OpKind) types.NodeIndex {
	switch kind.Tag {
	case TagAddLeaf:
		return kind.Under
	case TagRemoveLeaf:
		path := types.DirectPath(kind.LeafIndex, s.NumLeaves())
		if len(path) > 0 {
			return path[0]
		}
		return types.RootNode(s.NumLeaves())
	case TagChangePolicy:
		return kind.Node
	case TagRotateEpoch:
		if len(kind.Affected) > 0 {
			return kind.Affected[0]
		}
	}
	if s.NumLeaves() == 0 {
		return 0
	}
	return types.RootNode(s.NumLeaves())
}

// VerifyAttested checks an attested operation against this tree state
// without applying it:
//
//  1. the target branch carries a signing key,
//  2. the signer count satisfies the branch's policy,
//  3. the op binds to the current (epoch, root commitment) pair,
//  4. the aggregate signature verifies over the binding message, which
//     includes the group public key.
func (s *State) VerifyAttested(attested *AttestedOp) error {
	target := s.SigningNode(attested.Op.Kind)

	branch, ok := s.branches[target]
	if !ok || branch.SigningKey == nil {
		return common.NewCodedErr(common.MissingSigningKey, "Tree", target.String())
	}

	required := branch.Policy.RequiredSigners(s.subtreeLeafCount(target))
	if attested.SignerCount < required {
		return common.NewCodedErr(common.InsufficientSigners, "Tree", attested.Op.Kind.String())
	}

	if attested.Op.ParentEpoch > s.epoch {
		return common.NewCodedErr(common.EpochMismatch, "Tree", attested.Op.ParentEpoch.String())
	}
	if attested.Op.ParentEpoch == s.epoch && attested.Op.ParentCommitment != s.rootCommitment {
		return common.NewCodedErr(common.ParentCommitmentMismatch, "Tree", attested.Op.ParentCommitment.Short())
	}

	msg := attested.Op.BindingMessage(s.epoch, branch.SigningKey.GroupPublicKey)
	if !frost.Verify(branch.SigningKey.GroupPublicKey, msg.Bytes(), attested.AggSig) {
		return common.NewCodedErr(common.SignatureFailed, "Tree", attested.Op.Kind.String())
	}

	return nil
}

// Apply executes a verified operation against the state. Applying an op
// whose parent epoch is already behind the current epoch is a no-op, which
// makes application idempotent for a given parent state.
func (s *State) Apply(attested *AttestedOp) error {
	if attested.Op.ParentEpoch < s.epoch {
		// already applied (or superseded by the journal tie-break)
		return nil
	}

	kind := attested.Op.Kind
	switch kind.Tag {
	case TagAddLeaf:
		leaf := *kind.Leaf
		return s.AddLeaf(&leaf)
	case TagRemoveLeaf:
		return s.RemoveLeaf(kind.LeafIndex)
	case TagChangePolicy:
		if err := s.ChangePolicy(kind.Node, *kind.NewPolicy); err != nil {
			return err
		}
		s.epoch = s.epoch.Next()
		s.recomputeRoot()
		return nil
	case TagRotateEpoch:
		s.BumpEpoch(kind.Affected)
		return nil
	case TagSnapshot:
		// a snapshot fence fast-forwards an empty replica
		if s.epoch < kind.Snapshot.Epoch {
			s.epoch = kind.Snapshot.Epoch
			s.rootCommitment = kind.Snapshot.Commitment
		}
		return nil
	}
	return common.NewCodedErr(common.ValidationFailed, "Tree", "unknown op tag")
}

// Rebuild folds a sequence of attested ops, ordered by epoch, into a fresh
// state. Replicas use it to re-derive tree state from a merged journal.
func Rebuild(authority types.AuthorityID, ops []*AttestedOp) (*State, error) {
	s := NewState(authority)
	for _, op := range ops {
		if err := s.Apply(op); err != nil {
			return nil, err
		}
	}
	return s, nil
}

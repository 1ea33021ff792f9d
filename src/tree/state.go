package tree

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/halonetworks/halo/src/crypto"
	"github.com/halonetworks/halo/src/types"
)

// EmptyTreeCommitment is the fixed digest of a tree with no leaves.
var EmptyTreeCommitment = crypto.Blake3([]byte("HALO_EMPTY_TREE"))

// State is the commitment tree of one authority. It is exclusively owned by
// the node's event loop; concurrent readers work on Clone()d snapshots.
type State struct {
	authority types.AuthorityID
	epoch     types.Epoch

	leaves   map[types.LeafIndex]*Leaf
	byLeafID map[types.LeafID]types.LeafIndex
	branches map[types.NodeIndex]*Branch

	rootCommitment types.Hash32
}

// NewState creates an empty tree for the given authority at epoch 0.
func NewState(authority types.AuthorityID) *State {
	return &State{
		authority:      authority,
		leaves:         make(map[types.LeafIndex]*Leaf),
		byLeafID:       make(map[types.LeafID]types.LeafIndex),
		branches:       make(map[types.NodeIndex]*Branch),
		rootCommitment: EmptyTreeCommitment,
	}
}

// Restore reconstructs a state from compacted history: the roster is
// replayed leaf by leaf, branch policies and signing keys are reinstalled,
// and the epoch is pinned to the value the history reached. The recomputed
// root must equal the recorded commitment; a mismatch means the summary and
// the roster drifted apart and the state cannot be trusted.
func Restore(
	authority types.AuthorityID,
	epoch types.Epoch,
	commitment types.Hash32,
	roster []*Leaf,
	policies map[types.NodeIndex]Policy,
	signingKeys map[types.NodeIndex]*BranchSigningKey,
) (*State, error) {
	s := NewState(authority)

	for _, l := range roster {
		leaf := *l
		if err := s.AddLeaf(&leaf); err != nil {
			return nil, err
		}
	}

	for n, p := range policies {
		branch, ok := s.branches[n]
		if !ok {
			return nil, fmt.Errorf("no branch at node %s for restored policy", n)
		}
		branch.Policy = p
	}

	for n, k := range signingKeys {
		branch, ok := s.branches[n]
		if !ok {
			return nil, fmt.Errorf("no branch at node %s for restored signing key", n)
		}
		branch.SigningKey = &BranchSigningKey{
			GroupPublicKey: k.GroupPublicKey,
			KeyEpoch:       k.KeyEpoch,
		}
	}

	s.epoch = epoch
	s.recomputeRoot()

	if !commitment.IsZero() && s.rootCommitment != commitment {
		return nil, fmt.Errorf("restored commitment %s does not match recorded %s",
			s.rootCommitment.Short(), commitment.Short())
	}

	return s, nil
}

// Authority returns the authority this tree belongs to.
func (s *State) Authority() types.AuthorityID { return s.authority }

// Epoch returns the current epoch.
func (s *State) Epoch() types.Epoch { return s.epoch }

// RootCommitment returns the current root commitment.
func (s *State) RootCommitment() types.Hash32 { return s.rootCommitment }

// NumLeaves returns the number of leaves.
func (s *State) NumLeaves() uint32 { return uint32(len(s.leaves)) }

// Leaf returns the leaf at the given index.
func (s *State) Leaf(index types.LeafIndex) (*Leaf, bool) {
	l, ok := s.leaves[index]
	return l, ok
}

// LeafByID returns the leaf with the given identifier.
func (s *State) LeafByID(id types.LeafID) (*Leaf, bool) {
	index, ok := s.byLeafID[id]
	if !ok {
		return nil, false
	}
	return s.leaves[index], true
}

// Branch returns the branch at the given node index.
func (s *State) Branch(node types.NodeIndex) (*Branch, bool) {
	b, ok := s.branches[node]
	return b, ok
}

// Root returns the root branch, if the tree has one. Trees with fewer than
// two leaves have no branch at all.
func (s *State) Root() (*Branch, bool) {
	if s.NumLeaves() < 2 {
		return nil, false
	}
	return s.Branch(types.RootNode(s.NumLeaves()))
}

// Roster returns the leaves in index order.
func (s *State) Roster() []*Leaf {
	out := make([]*Leaf, 0, len(s.leaves))
	for i := types.LeafIndex(0); uint32(i) < s.NumLeaves(); i++ {
		out = append(out, s.leaves[i])
	}
	return out
}

// RosterHash digests the roster, for snapshot summaries.
func (s *State) RosterHash() types.Hash32 {
	chunks := [][]byte{[]byte("HALO_ROSTER")}
	for _, l := range s.Roster() {
		chunks = append(chunks, l.Commitment().Bytes())
	}
	return crypto.Blake3Concat(chunks...)
}

// Clone returns a snapshot sharing no mutable structure with the original.
func (s *State) Clone() *State {
	c := &State{
		authority:      s.authority,
		epoch:          s.epoch,
		leaves:         make(map[types.LeafIndex]*Leaf, len(s.leaves)),
		byLeafID:       make(map[types.LeafID]types.LeafIndex, len(s.byLeafID)),
		branches:       make(map[types.NodeIndex]*Branch, len(s.branches)),
		rootCommitment: s.rootCommitment,
	}
	for i, l := range s.leaves {
		leaf := *l
		c.leaves[i] = &leaf
	}
	for id, i := range s.byLeafID {
		c.byLeafID[id] = i
	}
	for n, b := range s.branches {
		c.branches[n] = b.clone()
	}
	return c
}

// AddLeaf inserts a leaf at the next free slot, materialises any branches
// that appear on its direct path, recomputes commitments and advances the
// epoch.
func (s *State) AddLeaf(leaf *Leaf) error {
	next := types.LeafIndex(s.NumLeaves())
	if leaf.LeafIndex != next {
		return fmt.Errorf("leaf index %s is not the next free slot %s", leaf.LeafIndex, next)
	}
	if _, exists := s.byLeafID[leaf.LeafID]; exists {
		return fmt.Errorf("leaf %s already present", leaf.LeafID.Short())
	}

	s.leaves[next] = leaf
	s.byLeafID[leaf.LeafID] = next

	// growth can surface new branch indexes anywhere on the path
	for _, n := range types.DirectPath(next, s.NumLeaves()) {
		if _, ok := s.branches[n]; !ok {
			s.branches[n] = &Branch{NodeIndex: n, Policy: AnyPolicy()}
		}
	}
	s.pruneBranches()

	s.epoch = s.epoch.Next()
	s.recomputeRoot()
	return nil
}

// RemoveLeaf removes the leaf at the given index, swapping in the last leaf
// to keep the tree left-balanced, then prunes branches that no longer exist
// and recomputes commitments.
func (s *State) RemoveLeaf(index types.LeafIndex) error {
	leaf, ok := s.leaves[index]
	if !ok {
		return fmt.Errorf("no leaf at index %s", index)
	}

	last := types.LeafIndex(s.NumLeaves() - 1)
	delete(s.byLeafID, leaf.LeafID)

	if index != last {
		moved := s.leaves[last]
		moved.LeafIndex = index
		s.leaves[index] = moved
		s.byLeafID[moved.LeafID] = index
	}
	delete(s.leaves, last)

	s.pruneBranches()

	s.epoch = s.epoch.Next()
	s.recomputeRoot()
	return nil
}

// RotatePath advances the epoch and replaces the signing keys of every
// branch on the leaf's direct path. The new group public keys come from the
// rotation ceremony; any path branch missing from keys keeps its old key
// material but still re-commits at the new epoch.
func (s *State) RotatePath(index types.LeafIndex, keys map[types.NodeIndex][]byte) error {
	if _, ok := s.leaves[index]; !ok {
		return fmt.Errorf("no leaf at index %s", index)
	}

	s.epoch = s.epoch.Next()

	for _, n := range types.DirectPath(index, s.NumLeaves()) {
		branch, ok := s.branches[n]
		if !ok {
			continue
		}
		if key, ok := keys[n]; ok {
			branch.SigningKey = &BranchSigningKey{GroupPublicKey: key, KeyEpoch: s.epoch}
		} else if branch.SigningKey != nil {
			branch.SigningKey = &BranchSigningKey{
				GroupPublicKey: branch.SigningKey.GroupPublicKey,
				KeyEpoch:       s.epoch,
			}
		}
	}

	s.recomputeRoot()
	return nil
}

// ChangePolicy replaces a branch's policy. The new policy must be valid for
// the branch's current participant count and at least as strict as the old
// one.
func (s *State) ChangePolicy(node types.NodeIndex, policy Policy) error {
	branch, ok := s.branches[node]
	if !ok {
		return fmt.Errorf("no branch at node %s", node)
	}

	count := s.subtreeLeafCount(node)
	if err := policy.Validate(count); err != nil {
		return err
	}
	if !policy.StricterOrEqual(branch.Policy) {
		return fmt.Errorf("policy change %s -> %s would weaken the branch", branch.Policy, policy)
	}

	branch.Policy = policy
	s.recomputeRoot()
	return nil
}

// SetSigningKey installs a group public key on a branch. Called when a
// signing ceremony equips a branch for the first time.
func (s *State) SetSigningKey(node types.NodeIndex, groupPublicKey []byte) error {
	branch, ok := s.branches[node]
	if !ok {
		return fmt.Errorf("no branch at node %s", node)
	}
	branch.SigningKey = &BranchSigningKey{GroupPublicKey: groupPublicKey, KeyEpoch: s.epoch}
	s.recomputeRoot()
	return nil
}

// BumpEpoch advances the epoch without structural change, re-keying the
// affected branches at the new epoch. This is the RotateEpoch op.
func (s *State) BumpEpoch(affected []types.NodeIndex) {
	s.epoch = s.epoch.Next()
	for _, n := range affected {
		branch, ok := s.branches[n]
		if !ok || branch.SigningKey == nil {
			continue
		}
		branch.SigningKey = &BranchSigningKey{
			GroupPublicKey: branch.SigningKey.GroupPublicKey,
			KeyEpoch:       s.epoch,
		}
	}
	s.recomputeRoot()
}

// subtreeLeafCount counts the leaves under a node.
func (s *State) subtreeLeafCount(node types.NodeIndex) uint32 {
	if node.IsLeaf() {
		return 1
	}
	n := s.NumLeaves()
	var count uint32
	for _, c := range node.Children(n) {
		count += s.subtreeLeafCount(c)
	}
	return count
}

// pruneBranches drops branch entries whose node index no longer exists in a
// tree of the current size.
func (s *State) pruneBranches() {
	width := types.NodeWidth(s.NumLeaves())
	for n := range s.branches {
		if uint32(n) >= width {
			delete(s.branches, n)
		}
	}
}

// recomputeRoot folds the tree bottom-up into the root commitment. A leaf
// commits its role and key material; a branch commits its sorted children,
// its policy hash and its key epoch.
func (s *State) recomputeRoot() {
	n := s.NumLeaves()
	if n == 0 {
		s.rootCommitment = EmptyTreeCommitment
		return
	}
	s.rootCommitment = s.commitNode(types.RootNode(n))
}

func (s *State) commitNode(node types.NodeIndex) types.Hash32 {
	if node.IsLeaf() {
		leaf, ok := s.leaves[node.LeafIndexOf()]
		if !ok {
			return types.Hash32{}
		}
		return leaf.Commitment()
	}

	children := node.Children(s.NumLeaves())
	childCommits := make([]types.Hash32, 0, len(children))
	for _, c := range children {
		childCommits = append(childCommits, s.commitNode(c))
	}
	sort.Slice(childCommits, func(i, j int) bool {
		return bytes.Compare(childCommits[i][:], childCommits[j][:]) < 0
	})

	policyHash := AnyPolicy().Hash()
	var keyEpoch types.Epoch
	if branch, ok := s.branches[node]; ok {
		policyHash = branch.Policy.Hash()
		if branch.SigningKey != nil {
			keyEpoch = branch.SigningKey.KeyEpoch
		}
	}

	chunks := [][]byte{[]byte("HALO_BRANCH_COMMIT")}
	for _, c := range childCommits {
		chunks = append(chunks, c.Bytes())
	}
	chunks = append(chunks, policyHash.Bytes(), keyEpoch.Bytes())
	return crypto.Blake3Concat(chunks...)
}

package journal

import (
	"bytes"
	"sort"

	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// Map is the journal's replicated state. All four fact components are
// grow-only under Join; tombstones dominate intents, and the op tie-break
// keeps the op slot per epoch deterministic. The snapshot travels with the
// map so a replica that merges compacted history can still reconstruct the
// roster behind the fence; under Join the highest-epoch snapshot wins.
type Map struct {
	Ops        map[types.Epoch]*tree.AttestedOp   `json:"ops"`
	Intents    map[types.IntentID]*Intent         `json:"intents"`
	Tombstones map[types.IntentID]bool            `json:"tombstones"`
	Failures   map[types.ConsensusID]*FailureFact `json:"failures"`
	Snapshot   *Snapshot                          `json:"snapshot,omitempty"`
}

// NewMap returns the semilattice bottom: the empty journal.
func NewMap() *Map {
	return &Map{
		Ops:        make(map[types.Epoch]*tree.AttestedOp),
		Intents:    make(map[types.IntentID]*Intent),
		Tombstones: make(map[types.IntentID]bool),
		Failures:   make(map[types.ConsensusID]*FailureFact),
	}
}

// Clone returns a deep-enough copy: the maps are fresh, the values are
// shared. Values are never mutated after insertion.
func (m *Map) Clone() *Map {
	c := NewMap()
	for e, op := range m.Ops {
		c.Ops[e] = op
	}
	for id, in := range m.Intents {
		c.Intents[id] = in
	}
	for id := range m.Tombstones {
		c.Tombstones[id] = true
	}
	for cid, f := range m.Failures {
		c.Failures[cid] = f
	}
	c.Snapshot = m.Snapshot
	return c
}

// AddOp records an attested op for an epoch. When the slot is already taken
// the op with the greater content hash wins; returns whether the map changed
// in the caller's favour.
func (m *Map) AddOp(epoch types.Epoch, op *tree.AttestedOp) bool {
	existing, ok := m.Ops[epoch]
	if !ok {
		m.Ops[epoch] = op
		return true
	}
	if bytes.Compare(op.Hash().Bytes(), existing.Hash().Bytes()) > 0 {
		m.Ops[epoch] = op
		return true
	}
	return false
}

// AddIntent adds an intent to the pool. A tombstoned intent stays dead.
func (m *Map) AddIntent(intent *Intent) {
	if _, exists := m.Intents[intent.IntentID]; exists {
		return
	}
	m.Intents[intent.IntentID] = intent
}

// Tombstone marks an intent resolved. Idempotent, and valid even before the
// intent itself arrives.
func (m *Map) Tombstone(id types.IntentID) {
	m.Tombstones[id] = true
}

// Visible reports whether an intent is in the pool and not tombstoned.
func (m *Map) Visible(id types.IntentID) bool {
	_, ok := m.Intents[id]
	return ok && !m.Tombstones[id]
}

// RecordFailure records a consensus failure. First write wins; the fact is
// deterministic for a given instance so replicas agree.
func (m *Map) RecordFailure(f *FailureFact) {
	if _, exists := m.Failures[f.CID]; exists {
		return
	}
	m.Failures[f.CID] = f
}

// PendingIntents returns the visible intents ordered by identifier.
func (m *Map) PendingIntents() []*Intent {
	out := make([]*Intent, 0, len(m.Intents))
	for id, in := range m.Intents {
		if !m.Tombstones[id] {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].IntentID[:], out[j].IntentID[:]) < 0
	})
	return out
}

// MaxEpoch returns the highest epoch with a recorded op, or 0.
func (m *Map) MaxEpoch() types.Epoch {
	var max types.Epoch
	for e := range m.Ops {
		if e > max {
			max = e
		}
	}
	return max
}

// OrderedOps returns the recorded ops sorted by epoch.
func (m *Map) OrderedOps() []*tree.AttestedOp {
	epochs := make([]types.Epoch, 0, len(m.Ops))
	for e := range m.Ops {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	out := make([]*tree.AttestedOp, 0, len(epochs))
	for _, e := range epochs {
		out = append(out, m.Ops[e])
	}
	return out
}

// Join merges other into m in place and reports whether m changed. Join is
// the semilattice operation: commutative, associative, idempotent.
func (m *Map) Join(other *Map) bool {
	changed := false
	for e, op := range other.Ops {
		if m.AddOp(e, op) {
			changed = true
		}
	}
	for id, in := range other.Intents {
		if _, ok := m.Intents[id]; !ok {
			m.Intents[id] = in
			changed = true
		}
	}
	for id := range other.Tombstones {
		if !m.Tombstones[id] {
			m.Tombstones[id] = true
			changed = true
		}
	}
	for cid, f := range other.Failures {
		if _, ok := m.Failures[cid]; !ok {
			m.Failures[cid] = f
			changed = true
		}
	}
	if other.Snapshot != nil && (m.Snapshot == nil || other.Snapshot.Epoch > m.Snapshot.Epoch) {
		m.Snapshot = other.Snapshot
		changed = true
	}
	if m.Snapshot != nil {
		// an uncompacted peer can reintroduce ops and intents from below
		// the fence; re-applying the snapshot keeps Join and Compact
		// commutative
		m.Compact(m.Snapshot)
	}
	return changed
}

// Snapshot summarises tree state at a compaction point. It carries enough to
// rebuild the full tree, not just its digest: roster, branch policies and
// branch signing keys.
type Snapshot struct {
	Epoch       types.Epoch                                `json:"epoch"`
	Commitment  types.Hash32                               `json:"commitment"`
	Roster      []*tree.Leaf                               `json:"roster"`
	Policies    map[types.NodeIndex]tree.Policy            `json:"policies"`
	SigningKeys map[types.NodeIndex]*tree.BranchSigningKey `json:"signing_keys"`
	RosterHash  types.Hash32                               `json:"roster_hash"`
}

// TakeSnapshot captures a snapshot of a tree state.
func TakeSnapshot(s *tree.State) *Snapshot {
	roster := s.Roster()
	policies := make(map[types.NodeIndex]tree.Policy)
	signingKeys := make(map[types.NodeIndex]*tree.BranchSigningKey)
	for _, leaf := range roster {
		for _, n := range types.DirectPath(leaf.LeafIndex, s.NumLeaves()) {
			b, ok := s.Branch(n)
			if !ok {
				continue
			}
			policies[n] = b.Policy
			if b.SigningKey != nil {
				signingKeys[n] = b.SigningKey
			}
		}
	}
	return &Snapshot{
		Epoch:       s.Epoch(),
		Commitment:  s.RootCommitment(),
		Roster:      roster,
		Policies:    policies,
		SigningKeys: signingKeys,
		RosterHash:  s.RosterHash(),
	}
}

// Restore rebuilds the tree state the snapshot was taken from.
func (s *Snapshot) Restore(authority types.AuthorityID) (*tree.State, error) {
	return tree.Restore(authority, s.Epoch, s.Commitment, s.Roster, s.Policies, s.SigningKeys)
}

// FenceOp is the deterministic synthetic op that stands in for compacted
// history. It is a pure function of the snapshot, so independently compacted
// replicas produce bit-identical fences.
func (s *Snapshot) FenceOp() *tree.AttestedOp {
	return &tree.AttestedOp{
		Op: tree.Op{
			ParentEpoch:      s.Epoch,
			ParentCommitment: s.Commitment,
			Kind: tree.SnapshotOp(tree.SnapshotSummary{
				Epoch:      s.Epoch,
				Commitment: s.Commitment,
				RosterHash: s.RosterHash,
			}),
			Version: tree.OpVersion,
		},
	}
}

// Compact retracts every op at or below the snapshot epoch and installs the
// snapshot fence in their place. Intents proposed against pre-snapshot state
// are dropped; their tombstones are kept, so a stale intent arriving later
// from an uncompacted replica stays dead.
//
// Compact commutes with Join: compacting two replicas and merging them gives
// the same journal as merging first and compacting once.
func (m *Map) Compact(s *Snapshot) {
	if m.Snapshot == nil || s.Epoch > m.Snapshot.Epoch {
		m.Snapshot = s
	}
	for e := range m.Ops {
		if e <= s.Epoch {
			delete(m.Ops, e)
		}
	}
	m.Ops[s.Epoch] = s.FenceOp()

	for id, in := range m.Intents {
		if in.Op.ParentEpoch < s.Epoch {
			delete(m.Intents, id)
			m.Tombstones[id] = true
		}
	}
}

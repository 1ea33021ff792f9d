package journal

import (
	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
	"github.com/sirupsen/logrus"
)

// Journal couples the replicated map with the tree state it induces. Facts
// flow in through Record; remote maps flow in through Merge. After every
// mutation the tree is caught up to the journal's op sequence, so readers
// always see a state consistent with the recorded history.
type Journal struct {
	authority types.AuthorityID

	store Store
	state *tree.State

	logger *logrus.Entry
}

// New creates a Journal on top of a store. The tree state is rebuilt from
// whatever the store already holds, so reopening a persistent store resumes
// where the journal left off.
func New(authority types.AuthorityID, store Store, logger *logrus.Entry) (*Journal, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	j := &Journal{
		authority: authority,
		store:     store,
		state:     tree.NewState(authority),
		logger:    logger.WithField("authority", authority.Short()),
	}

	if err := j.catchUp(); err != nil {
		return nil, err
	}

	return j, nil
}

// Authority returns the authority this journal belongs to.
func (j *Journal) Authority() types.AuthorityID { return j.authority }

// State returns the current tree state. The returned value is owned by the
// journal; callers that need to retain it take a Clone.
func (j *Journal) State() *tree.State { return j.state }

// Map returns the underlying replicated map.
func (j *Journal) Map() *Map { return j.store.Map() }

// Store returns the backing store.
func (j *Journal) Store() Store { return j.store }

// PendingIntents returns the visible intent pool in deterministic order.
func (j *Journal) PendingIntents() []*Intent { return j.store.Map().PendingIntents() }

// Record applies one fact. Op facts are verified against the current tree
// before they are admitted; everything else is structurally monotone and
// cannot fail.
func (j *Journal) Record(f Fact) error {
	j.logger.WithField("fact", f.String()).Debug("Record")

	switch f.Type {
	case FactIntent:
		return j.store.AddIntent(f.Intent)

	case FactOp:
		return j.recordOp(f.Op)

	case FactCommit:
		if err := j.store.TombstoneIntent(f.Commit.IntentID); err != nil {
			return err
		}
		return nil

	case FactFailure:
		if err := j.store.RecordFailure(f.Failure); err != nil {
			return err
		}
		return j.store.TombstoneIntent(f.Failure.IntentID)

	case FactSnapshot:
		return j.compact(f.Snapshot)
	}

	return common.NewCodedErr(common.ValidationFailed, "Journal", "unknown fact type")
}

func (j *Journal) recordOp(op *tree.AttestedOp) error {
	// fences carry no signature; everything else is checked against the
	// tree state it claims as parent
	if op.Op.Kind.Tag != tree.TagSnapshot {
		if err := j.state.VerifyAttested(op); err != nil {
			return err
		}
	}

	epoch := op.Op.ParentEpoch.Next()
	if op.Op.Kind.Tag == tree.TagSnapshot {
		epoch = op.Op.Kind.Snapshot.Epoch
	}

	accepted, err := j.store.SetOp(epoch, op)
	if err != nil {
		return err
	}
	if !accepted {
		j.logger.WithField("epoch", epoch).Debug("Op lost epoch tie-break")
		return nil
	}

	return j.catchUp()
}

// Merge joins a remote map into this journal and re-derives the tree.
// Returns whether anything changed.
func (j *Journal) Merge(remote *Map) (bool, error) {
	changed, err := j.store.Merge(remote)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	return true, j.catchUp()
}

// Adopt replaces the tree with a recovered state and compacts the journal
// onto it, fencing off the history below. Guardian recovery is the only
// caller: the op a ceremony enacts cannot carry an attestation because the
// device keys that would normally sign it are lost.
func (j *Journal) Adopt(state *tree.State) error {
	j.state = state
	return j.Compact()
}

// Compact snapshots the current tree and retracts the history below it.
func (j *Journal) Compact() error {
	return j.compact(TakeSnapshot(j.state))
}

func (j *Journal) compact(s *Snapshot) error {
	j.logger.WithFields(logrus.Fields{
		"epoch":      s.Epoch,
		"commitment": s.Commitment.Short(),
	}).Debug("Compact")
	return j.store.Compact(s)
}

// Genesis installs the founding roster and equips the root branch with the
// authority's first group signing key, then compacts so the genesis state
// becomes the journal's snapshot base. Replicas run it independently; the
// result is a deterministic function of the roster and the key, so they end
// up bit-identical. A journal that already holds history ignores the call.
func (j *Journal) Genesis(roster []*tree.Leaf, groupPublicKey []byte) error {
	m := j.store.Map()
	if m.Snapshot != nil || len(m.Ops) > 0 {
		return nil
	}

	state := tree.NewState(j.authority)
	for _, leaf := range roster {
		if err := state.AddLeaf(leaf); err != nil {
			return err
		}
	}
	root := types.RootNode(state.NumLeaves())
	if err := state.SetSigningKey(root, groupPublicKey); err != nil {
		return err
	}

	j.logger.WithFields(logrus.Fields{
		"roster": len(roster),
		"epoch":  state.Epoch(),
	}).Debug("Genesis")

	j.state = state
	return j.Compact()
}

// catchUp re-derives the tree state from the store: seed from the compaction
// snapshot when one exists, then fold the op sequence on top. The fold
// restarts from scratch because a merge can rewrite an epoch slot the
// current state was built on.
func (j *Journal) catchUp() error {
	m := j.store.Map()

	var state *tree.State
	if m.Snapshot != nil {
		restored, err := m.Snapshot.Restore(j.authority)
		if err != nil {
			return err
		}
		state = restored
	} else {
		state = tree.NewState(j.authority)
	}

	for _, op := range m.OrderedOps() {
		if err := state.Apply(op); err != nil {
			return err
		}
	}

	j.state = state
	return nil
}
